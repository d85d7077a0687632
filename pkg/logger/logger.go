package logger

import (
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig 日志配置
type LogConfig struct {
	Level      string `env:"LOG_LEVEL"`
	Filename   string `env:"LOG_FILENAME"`
	MaxSize    int    `env:"LOG_MAX_SIZE"`
	MaxAge     int    `env:"LOG_MAX_AGE"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS"`
}

// Lg 全局日志实例，未初始化时为 Nop
var Lg = zap.NewNop()

// Init 初始化日志，mode 为 development 时输出彩色控制台格式
func Init(cfg *LogConfig, mode string) error {
	if cfg == nil {
		cfg = &LogConfig{}
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return err
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)
	if mode == "development" || mode == "debug" {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	var sink zapcore.WriteSyncer = zapcore.AddSync(os.Stdout)
	if cfg.Filename != "" {
		// 按大小滚动
		rotate := &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    orDefault(cfg.MaxSize, 100),
			MaxAge:     orDefault(cfg.MaxAge, 30),
			MaxBackups: orDefault(cfg.MaxBackups, 10),
			Compress:   true,
		}
		sink = zapcore.NewMultiWriteSyncer(sink, zapcore.AddSync(rotate))
	}

	core := zapcore.NewCore(encoder, sink, level)
	Lg = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	zap.ReplaceGlobals(Lg)
	return nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func Debug(msg string, fields ...zap.Field) { Lg.Debug(msg, fields...) }

func Info(msg string, fields ...zap.Field) { Lg.Info(msg, fields...) }

func Warn(msg string, fields ...zap.Field) { Lg.Warn(msg, fields...) }

func Error(msg string, fields ...zap.Field) { Lg.Error(msg, fields...) }

// Sync 刷新缓冲
func Sync() { _ = Lg.Sync() }
