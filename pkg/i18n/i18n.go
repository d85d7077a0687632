// Package i18n 推送等面向用户文本的多语言支持。
package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"path"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"SafeCircle/pkg/logger"
)

//go:embed locales/*.json
var locales embed.FS

// Translator 包装 go-i18n 的 bundle，缺失的文案退回默认语言
type Translator struct {
	bundle      *i18n.Bundle
	defaultLang string
}

// New 加载内置的 en/zh 文案
func New(defaultLang string) (*Translator, error) {
	if defaultLang == "" {
		defaultLang = "en"
	}
	tag, err := language.Parse(defaultLang)
	if err != nil {
		return nil, fmt.Errorf("i18n: bad default language %q: %w", defaultLang, err)
	}
	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	files, err := locales.ReadDir("locales")
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		name := path.Join("locales", f.Name())
		buf, err := locales.ReadFile(name)
		if err != nil {
			return nil, err
		}
		if _, err := bundle.ParseMessageFileBytes(buf, name); err != nil {
			return nil, fmt.Errorf("i18n: parse %s: %w", name, err)
		}
	}
	return &Translator{bundle: bundle, defaultLang: defaultLang}, nil
}

// MustNew 用于内置文案，加载失败说明打包有问题
func MustNew(defaultLang string) *Translator {
	t, err := New(defaultLang)
	if err != nil {
		panic(err)
	}
	return t
}

// T 获取翻译文本，找不到时返回 key
func (t *Translator) T(lang, key string, data map[string]interface{}) string {
	localizer := i18n.NewLocalizer(t.bundle, lang, t.defaultLang)
	s, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: data,
	})
	if err != nil {
		logger.Warn("translate failed", zap.String("key", key), zap.String("lang", lang), zap.Error(err))
		return key
	}
	return s
}

func (t *Translator) DefaultLanguage() string { return t.defaultLang }
