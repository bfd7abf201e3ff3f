package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config 运行时配置，只来自环境变量，没有命令行参数
type Config struct {
	// ComfyURL ComfyUI 服务地址，为空表示不使用外部抠图
	ComfyURL string
	// DisableFallback 为 true 时不使用阈值抠图
	DisableFallback bool

	LogLevel slog.Level
	LogFile  string
}

// Default 返回默认配置
func Default() *Config {
	return &Config{LogLevel: slog.LevelInfo}
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if v, ok := lookup(EnvComfyURL); ok {
		cfg.ComfyURL = strings.TrimRight(strings.TrimSpace(v), "/")
	}

	if v, ok := lookup(EnvDisableFallback); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("parse %s=%q: %w", EnvDisableFallback, v, err)
		}
		cfg.DisableFallback = b
	}

	if v, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
			return nil, fmt.Errorf("parse %s=%q: %w", EnvLogLevel, v, err)
		}
	}

	if v, ok := lookup(EnvLogFile); ok {
		cfg.LogFile = strings.TrimSpace(v)
	}

	return cfg, nil
}
