package utils

import "image/color"

type ColorFloat [4]float32

func (c ColorFloat) RGBA() (r, g, b, a uint32) {
	const mf = float32(256*256 - 1)
	r = uint32(c[0] * c[3] * mf)
	g = uint32(c[1] * c[3] * mf)
	b = uint32(c[2] * c[3] * mf)
	a = uint32(c[3] * mf)
	return
}

func (c ColorFloat) NRGBA() color.NRGBA {
	return color.NRGBA{R: uint8(c[0] * 255), G: uint8(c[1] * 255), B: uint8(c[2] * 255), A: uint8(c[3] * 255)}
}

func NewColorFloatA(c []float32) ColorFloat {
	return ColorFloat{c[0], c[1], c[2], c[3]}
}

func NewColorFloat(c []float32) ColorFloat {
	return ColorFloat{c[0], c[1], c[2], 1.0}
}
