package rembg

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"

	"github.com/chaos-io/logo-rembg/util"
	"github.com/disintegration/imaging"
)

const ThresholdName = "threshold"

// ThresholdRemBG 把接近白色的像素设为全透明，其余像素设为全不透明
// 效果一般，只在没有外部模型时兜底
type ThresholdRemBG struct {
	threshold uint8
}

func NewThresholdRemBG(threshold uint8) *ThresholdRemBG {
	return &ThresholdRemBG{threshold: threshold}
}

func (t *ThresholdRemBG) Name() string { return ThresholdName }

func (t *ThresholdRemBG) Kind() Kind { return KindFallback }

// Available 确认 PNG 编解码可用
func (t *ThresholdRemBG) Available(_ context.Context) error {
	probe := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	probe.SetNRGBA(0, 0, color.NRGBA{R: 255, G: 255, B: 255, A: 255})

	data, err := util.EncodePNG(probe)
	if err != nil {
		return err
	}
	if _, format, err := util.DecodeImage(data); err != nil {
		return err
	} else if format != "png" {
		return fmt.Errorf("unexpected probe format %q", format)
	}
	return nil
}

func (t *ThresholdRemBG) Remove(ctx context.Context, input []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, _, err := util.DecodeImage(input)
	if err != nil {
		return nil, err
	}

	if HasTransparency(util.ToNRGBA(img)) {
		slog.Warn("input already has transparency, it will be replaced by the threshold mask")
	}

	out := ApplyThreshold(img, t.threshold)
	if bbox, ok := ForegroundBounds(out); ok {
		slog.Debug("foreground bounds", "bbox", bbox, "size", out.Bounds().Size())
	} else {
		slog.Warn("no foreground left after thresholding", "threshold", t.threshold)
	}

	return util.EncodePNG(out)
}

// ThresholdMask 背景遮罩，按 [y][x] 索引
// r、g、b 都严格大于 threshold 才算背景，等于 threshold 仍是前景
func ThresholdMask(img *image.NRGBA, threshold uint8) [][]bool {
	b := img.Bounds()
	mask := make([][]bool, b.Dy())
	for y := 0; y < b.Dy(); y++ {
		mask[y] = make([]bool, b.Dx())
		row := img.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < b.Dx(); x++ {
			p := img.Pix[row+x*4 : row+x*4+3]
			mask[y][x] = p[0] > threshold && p[1] > threshold && p[2] > threshold
		}
	}
	return mask
}

// ApplyThreshold 返回新图：背景 alpha=0，前景 alpha=255，颜色通道不变
// 原有的 alpha 会被丢弃
func ApplyThreshold(img image.Image, threshold uint8) *image.NRGBA {
	// Clone 统一转为 NRGBA，没有 alpha 的图视为全不透明
	dst := imaging.Clone(img)
	mask := ThresholdMask(dst, threshold)

	for y, row := range mask {
		off := dst.PixOffset(dst.Rect.Min.X, dst.Rect.Min.Y+y)
		for x, bg := range row {
			if bg {
				dst.Pix[off+x*4+3] = 0
			} else {
				dst.Pix[off+x*4+3] = 255
			}
		}
	}
	return dst
}
