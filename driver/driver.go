package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/chaos-io/logo-rembg/rembg"
	"github.com/chaos-io/logo-rembg/util"
)

var ErrInputMissing = errors.New("input file not found")

// Runner 选择一个可用的 remover 处理 Input，成功后用结果覆盖 Input
//
// 结果先写到 Output，再 rename 到 Input；任何失败都不会改动 Input。
// 同一路径上的并发运行不受保护。
type Runner struct {
	Input  string
	Output string
	// Removers 按优先级排列
	Removers []rembg.BackgroundRemover

	// Stdout 状态输出，默认 os.Stdout
	Stdout io.Writer
	// FallbackHint 使用兜底实现时额外打印的提示
	FallbackHint string
	// OnState 每次状态变化时回调，可为 nil
	OnState func(State)
}

func (r *Runner) Run(ctx context.Context) (State, error) {
	state := StateStart
	enter := func(s State) State {
		slog.Debug("driver state", "from", state, "to", s)
		state = s
		if r.OnState != nil {
			r.OnState(s)
		}
		return s
	}
	enter(StateStart)

	ok, err := util.FileExists(r.Input)
	if err != nil {
		return enter(StateFailRuntime), fmt.Errorf("stat %s: %w", r.Input, err)
	}
	if !ok {
		return enter(StateFailInputMissing), fmt.Errorf("%w: %s", ErrInputMissing, r.Input)
	}

	enter(StateCapabilityCheck)
	remover, err := rembg.Resolve(ctx, r.Removers...)
	if err != nil {
		return enter(StateFailNoCapability), err
	}

	if remover.Kind() == rembg.KindExternal {
		enter(StateRunPrimary)
	} else {
		enter(StateRunFallback)
	}

	if err := r.removeTo(ctx, remover); err != nil {
		r.cleanup()
		return enter(StateFailRuntime), err
	}
	r.printf("✅ Background removed using %s: %s\n", remover.Name(), r.Output)
	if remover.Kind() == rembg.KindFallback && r.FallbackHint != "" {
		r.printf("⚠️  Note: %s\n", r.FallbackHint)
	}

	enter(StateReplace)
	if err := util.ReplaceFile(r.Output, r.Input); err != nil {
		r.cleanup()
		return enter(StateFailRuntime), err
	}
	r.printf("✅ Original file replaced: %s\n", r.Input)

	return enter(StateSucceed), nil
}

func (r *Runner) removeTo(ctx context.Context, remover rembg.BackgroundRemover) error {
	defer util.Trace("remove background " + remover.Name())()

	info, err := os.Stat(r.Input)
	if err != nil {
		return err
	}
	input, err := os.ReadFile(r.Input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	output, err := remover.Remove(ctx, input)
	if err != nil {
		return fmt.Errorf("%s: %w", remover.Name(), err)
	}

	if err := os.WriteFile(r.Output, output, info.Mode().Perm()); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// cleanup 删除可能残留的中间产物
func (r *Runner) cleanup() {
	if err := os.Remove(r.Output); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("remove temporary output", "path", r.Output, "error", err)
	}
}

func (r *Runner) printf(format string, args ...any) {
	w := r.Stdout
	if w == nil {
		w = os.Stdout
	}
	_, _ = fmt.Fprintf(w, format, args...)
}
