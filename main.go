package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaos-io/logo-rembg/config"
	"github.com/chaos-io/logo-rembg/driver"
	"github.com/chaos-io/logo-rembg/rembg"
	ulog "github.com/chaos-io/logo-rembg/util/log"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Error: %v\n", err)
		return driver.ExitRuntime
	}

	closer, err := ulog.Setup(cfg)
	if err != nil {
		fmt.Printf("❌ Error: set up logging: %v\n", err)
		return driver.ExitRuntime
	}
	defer func() {
		_ = closer.Close()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := &driver.Runner{
		Input:        config.InputPath,
		Output:       config.OutputPath,
		Removers:     removers(cfg),
		FallbackHint: fmt.Sprintf("For better results, run ComfyUI with a BiRefNet node and set %s", config.EnvComfyURL),
	}

	state, err := runner.Run(ctx)
	if err != nil {
		fmt.Printf("❌ Error: %v\n", err)
		if errors.Is(err, rembg.ErrNoCapability) {
			fmt.Printf("   Start ComfyUI with the BiRefNet nodes and set %s=http://host:8188,\n", config.EnvComfyURL)
			fmt.Printf("   or unset %s to use the basic threshold method.\n", config.EnvDisableFallback)
		}
	}
	return driver.ExitCode(state)
}

// removers 按优先级构建：外部模型优先，阈值兜底
func removers(cfg *config.Config) []rembg.BackgroundRemover {
	var list []rembg.BackgroundRemover
	if cfg.ComfyURL != "" {
		list = append(list, rembg.NewComfyRemBG(cfg.ComfyURL))
	}
	if !cfg.DisableFallback {
		list = append(list, rembg.NewThresholdRemBG(config.Threshold))
	}
	return list
}
