package util

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// LoadEnv 按环境加载 .env.<env>，不存在时回退到 .env
func LoadEnv(env string) error {
	name := ".env." + env
	if _, err := os.Stat(name); err == nil {
		return godotenv.Load(name)
	}
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

func GetEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func GetIntEnv(key string) int64 {
	return cast.ToInt64(GetEnv(key))
}

func GetBoolEnv(key string) bool {
	return cast.ToBool(GetEnv(key))
}

// GetDurationEnv 支持 "90s" 形式，也支持纯数字（按秒）
func GetDurationEnv(key string) time.Duration {
	v := GetEnv(key)
	if v == "" {
		return 0
	}
	if n, err := cast.ToInt64E(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return cast.ToDuration(v)
}
