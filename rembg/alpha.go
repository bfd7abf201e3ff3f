package rembg

import "image"

// HasTransparency 是否存在非完全不透明的像素
func HasTransparency(img *image.NRGBA) bool {
	for i := 3; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 255 {
			return true
		}
	}
	return false
}

// ForegroundBounds alpha 大于 0 的像素的包围盒
// 没有前景时 ok 为 false
func ForegroundBounds(img *image.NRGBA) (bbox image.Rectangle, ok bool) {
	b := img.Bounds()
	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X-1, b.Min.Y-1

	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.PixOffset(b.Min.X, y)
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.Pix[row+(x-b.Min.X)*4+3] == 0 {
				continue
			}
			ok = true
			minX, maxX = min(minX, x), max(maxX, x)
			minY, maxY = min(minY, y), max(maxY, y)
		}
	}

	if !ok {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}
