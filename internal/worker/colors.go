package worker

import "image/color"

// IDColor returns a stable, visually distinct color for a global identity.
// Identities keep their color across clustering passes and across cameras,
// so the same vehicle is drawn in the same color everywhere. Negative ids
// (tracks without a global identity yet) render gray.
func IDColor(gid int) color.RGBA {
	if gid < 0 {
		return color.RGBA{R: 128, G: 128, B: 128, A: 255}
	}
	// Walk the hue wheel in golden-angle steps so consecutive ids land far
	// apart.
	hue := float64((gid * 137) % 360)
	return hsvToRGB(hue, 0.85, 0.95)
}

func hsvToRGB(h, s, v float64) color.RGBA {
	c := v * s
	hp := h / 60
	x := c * (1 - abs(mod2(hp)-1))

	var r, g, b float64
	switch {
	case hp < 1:
		r, g, b = c, x, 0
	case hp < 2:
		r, g, b = x, c, 0
	case hp < 3:
		r, g, b = 0, c, x
	case hp < 4:
		r, g, b = 0, x, c
	case hp < 5:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}

	m := v - c
	return color.RGBA{
		R: uint8((r + m) * 255),
		G: uint8((g + m) * 255),
		B: uint8((b + m) * 255),
		A: 255,
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func mod2(f float64) float64 {
	for f >= 2 {
		f -= 2
	}
	return f
}
