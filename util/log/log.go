package log

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chaos-io/logo-rembg/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup 安装默认 slog logger：stderr 文本输出，配置了日志文件时同时写入滚动文件
// 返回的 io.Closer 用于关闭日志文件
func Setup(cfg *config.Config) (io.Closer, error) {
	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)

	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
			return nil, err
		}
		rotating := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // MB
			MaxBackups: 2,
			MaxAge:     28, // days
			Compress:   true,
		}
		w = io.MultiWriter(os.Stderr, rotating)
		closer = rotating
	}

	slog.SetDefault(New(w, cfg.LogLevel))
	return closer, nil
}

// New 创建写到 w 的文本 logger，带 app 字段
func New(w io.Writer, level slog.Level) *slog.Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("app", config.AppName)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
