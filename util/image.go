package util

import (
	"image"

	"golang.org/x/image/draw"
)

// ToNRGBA 转为 NRGBA，已是 NRGBA 时直接返回
func ToNRGBA(img image.Image) *image.NRGBA {
	if nrgba, ok := img.(*image.NRGBA); ok {
		return nrgba
	}
	b := img.Bounds()
	dst := image.NewNRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}
