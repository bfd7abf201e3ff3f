package driver

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/chaos-io/logo-rembg/rembg"
	"github.com/chaos-io/logo-rembg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemover struct {
	kind      rembg.Kind
	availErr  error
	removeErr error
	output    []byte
	calls     int
}

func (f *fakeRemover) Name() string     { return "fake-" + f.kind.String() }
func (f *fakeRemover) Kind() rembg.Kind { return f.kind }
func (f *fakeRemover) Available(context.Context) error {
	return f.availErr
}
func (f *fakeRemover) Remove(context.Context, []byte) ([]byte, error) {
	f.calls++
	return f.output, f.removeErr
}

// logoPNG 2x2: 两个白色像素，两个深色像素
func logoPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	img.SetNRGBA(0, 1, color.NRGBA{R: 0, G: 0, B: 0, A: 255})
	img.SetNRGBA(1, 1, color.NRGBA{R: 10, G: 10, B: 10, A: 255})
	data, err := util.EncodePNG(img)
	require.NoError(t, err)
	return data
}

type fixture struct {
	runner *Runner
	states []State
	stdout *bytes.Buffer
}

func newFixture(t *testing.T, input []byte, removers ...rembg.BackgroundRemover) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{stdout: &bytes.Buffer{}}
	f.runner = &Runner{
		Input:        filepath.Join(dir, "airpublisher-logo.png"),
		Output:       filepath.Join(dir, "airpublisher-logo-no-bg.png"),
		Removers:     removers,
		Stdout:       f.stdout,
		FallbackHint: "install a real model",
		OnState:      func(s State) { f.states = append(f.states, s) },
	}
	if input != nil {
		require.NoError(t, os.WriteFile(f.runner.Input, input, 0o644))
	}
	return f
}

func assertNotExist(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist), "%s should not exist", path)
}

func TestRun_FallbackSucceeds(t *testing.T) {
	primary := &fakeRemover{kind: rembg.KindExternal, availErr: errors.New("connection refused")}
	f := newFixture(t, logoPNG(t), primary, rembg.NewThresholdRemBG(240))

	state, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSucceed, state)
	assert.Equal(t, ExitOK, ExitCode(state))
	assert.Equal(t, []State{StateStart, StateCapabilityCheck, StateRunFallback, StateReplace, StateSucceed}, f.states)
	assert.Equal(t, 0, primary.calls)

	img, err := util.OpenImage(f.runner.Input)
	require.NoError(t, err)
	got := util.ToNRGBA(img)
	assert.Equal(t, 2, got.Bounds().Dx())
	assert.Equal(t, 2, got.Bounds().Dy())
	assert.Equal(t, []uint8{0, 0, 255, 255}, []uint8{
		got.NRGBAAt(0, 0).A, got.NRGBAAt(1, 0).A, got.NRGBAAt(0, 1).A, got.NRGBAAt(1, 1).A,
	})

	assertNotExist(t, f.runner.Output)
	assert.Contains(t, f.stdout.String(), "✅ Background removed using threshold")
	assert.Contains(t, f.stdout.String(), "⚠️  Note: install a real model")
	assert.Contains(t, f.stdout.String(), "✅ Original file replaced")
}

func TestRun_PrimarySucceeds(t *testing.T) {
	primary := &fakeRemover{kind: rembg.KindExternal, output: []byte("cut out")}
	fallback := &fakeRemover{kind: rembg.KindFallback}
	f := newFixture(t, logoPNG(t), primary, fallback)

	state, err := f.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSucceed, state)
	assert.Contains(t, f.states, StateRunPrimary)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 0, fallback.calls)

	data, err := os.ReadFile(f.runner.Input)
	require.NoError(t, err)
	assert.Equal(t, "cut out", string(data))
	assert.NotContains(t, f.stdout.String(), "Note:")
}

func TestRun_InputMissing(t *testing.T) {
	remover := &fakeRemover{kind: rembg.KindFallback}
	f := newFixture(t, nil, remover)

	state, err := f.runner.Run(context.Background())
	require.ErrorIs(t, err, ErrInputMissing)
	assert.Equal(t, StateFailInputMissing, state)
	assert.NotEqual(t, ExitOK, ExitCode(state))
	assert.Equal(t, 0, remover.calls)

	assertNotExist(t, f.runner.Input)
	assertNotExist(t, f.runner.Output)
}

func TestRun_NoCapability(t *testing.T) {
	input := logoPNG(t)
	f := newFixture(t, input,
		&fakeRemover{kind: rembg.KindExternal, availErr: errors.New("connection refused")},
		&fakeRemover{kind: rembg.KindFallback, availErr: errors.New("disabled")},
	)

	state, err := f.runner.Run(context.Background())
	require.ErrorIs(t, err, rembg.ErrNoCapability)
	assert.Equal(t, StateFailNoCapability, state)
	assert.Equal(t, ExitNoCapability, ExitCode(state))

	data, err := os.ReadFile(f.runner.Input)
	require.NoError(t, err)
	assert.Equal(t, input, data)
	assertNotExist(t, f.runner.Output)
}

func TestRun_PrimaryFails(t *testing.T) {
	input := logoPNG(t)
	primary := &fakeRemover{kind: rembg.KindExternal, removeErr: errors.New("prompt failed")}
	fallback := &fakeRemover{kind: rembg.KindFallback}
	f := newFixture(t, input, primary, fallback)

	// 上一次运行残留的中间文件
	require.NoError(t, os.WriteFile(f.runner.Output, []byte("stale"), 0o644))

	state, err := f.runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt failed")
	assert.Equal(t, StateFailRuntime, state)
	assert.Equal(t, ExitRuntime, ExitCode(state))
	assert.Equal(t, 0, fallback.calls, "no fallback after a runtime failure")

	data, err := os.ReadFile(f.runner.Input)
	require.NoError(t, err)
	assert.Equal(t, input, data)
	assertNotExist(t, f.runner.Output)
}

func TestRun_FallbackDecodeFails(t *testing.T) {
	input := []byte("not a png")
	f := newFixture(t, input, rembg.NewThresholdRemBG(240))

	state, err := f.runner.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailRuntime, state)

	data, err := os.ReadFile(f.runner.Input)
	require.NoError(t, err)
	assert.Equal(t, input, data)
	assertNotExist(t, f.runner.Output)
}

func TestRun_OutputDirMissing(t *testing.T) {
	input := logoPNG(t)
	f := newFixture(t, input, &fakeRemover{kind: rembg.KindFallback, output: []byte("x")})
	f.runner.Output = filepath.Join(t.TempDir(), "missing", "out.png")

	state, err := f.runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write output")
	assert.Equal(t, StateFailRuntime, state)

	data, err := os.ReadFile(f.runner.Input)
	require.NoError(t, err)
	assert.Equal(t, input, data)
}

func TestStateAndExitCode(t *testing.T) {
	tests := []struct {
		state    State
		name     string
		terminal bool
		exit     int
	}{
		{StateStart, "START", false, ExitRuntime},
		{StateCapabilityCheck, "CAPABILITY_CHECK", false, ExitRuntime},
		{StateRunPrimary, "RUN_PRIMARY", false, ExitRuntime},
		{StateRunFallback, "RUN_FALLBACK", false, ExitRuntime},
		{StateReplace, "REPLACE_AND_SUCCEED", false, ExitRuntime},
		{StateSucceed, "SUCCEED", true, ExitOK},
		{StateFailInputMissing, "FAIL_INPUT_MISSING", true, ExitInputMissing},
		{StateFailNoCapability, "FAIL_NO_CAPABILITY", true, ExitNoCapability},
		{StateFailRuntime, "FAIL_RUNTIME", true, ExitRuntime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.state.String())
			assert.Equal(t, tt.terminal, tt.state.Terminal())
			assert.Equal(t, tt.exit, ExitCode(tt.state))
		})
	}
	assert.Equal(t, "State(42)", State(42).String())
}
