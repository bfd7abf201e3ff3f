// Package rembg 提供背景移除的两种实现：
// 通过 ComfyUI 调用 BiRefNet 模型的 ComfyRemBG，以及按亮度阈值生成透明遮罩的 ThresholdRemBG。
package rembg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Kind 区分外部模型和本地兜底实现
type Kind int

const (
	KindExternal Kind = iota
	KindFallback
)

func (k Kind) String() string {
	switch k {
	case KindExternal:
		return "external"
	case KindFallback:
		return "fallback"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// BackgroundRemover 接收编码后的图片字节，返回去除背景后的 PNG 字节
type BackgroundRemover interface {
	Name() string
	Kind() Kind
	// Available 探测依赖是否可用，不可用时返回原因
	Available(ctx context.Context) error
	Remove(ctx context.Context, input []byte) ([]byte, error)
}

// ErrNoCapability 没有任何可用的背景移除实现
var ErrNoCapability = errors.New("no background remover available")

// Resolve 按顺序探测 candidates，返回第一个可用的实现
func Resolve(ctx context.Context, candidates ...BackgroundRemover) (BackgroundRemover, error) {
	var errs []error
	for _, r := range candidates {
		if r == nil {
			continue
		}
		err := r.Available(ctx)
		if err == nil {
			slog.Info("resolved background remover", "remover", r.Name(), "kind", r.Kind())
			return r, nil
		}
		slog.Warn("background remover unavailable", "remover", r.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
	}

	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: none configured", ErrNoCapability)
	}
	return nil, fmt.Errorf("%w: %w", ErrNoCapability, errors.Join(errs...))
}
