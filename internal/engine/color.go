package engine

import (
	"image/color"
	"strconv"
	"strings"
)

var namedColors = map[string]color.RGBA{
	"black":       {0, 0, 0, 255},
	"white":       {255, 255, 255, 255},
	"red":         {255, 0, 0, 255},
	"green":       {0, 128, 0, 255},
	"blue":        {0, 0, 255, 255},
	"yellow":      {255, 255, 0, 255},
	"gray":        {128, 128, 128, 255},
	"grey":        {128, 128, 128, 255},
	"transparent": {0, 0, 0, 0},
}

// ParseColor parses CSS hex, rgb()/rgba() and a few named colors.
// Unparseable input returns def.
func ParseColor(s string, def color.RGBA) color.RGBA {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return def
	}
	if c, ok := namedColors[s]; ok {
		return c
	}

	if strings.HasPrefix(s, "#") {
		return parseHex(s[1:], def)
	}

	if strings.HasPrefix(s, "rgb") {
		open, end := strings.IndexByte(s, '('), strings.LastIndexByte(s, ')')
		if open < 0 || end <= open {
			return def
		}
		parts := strings.Split(s[open+1:end], ",")
		if len(parts) < 3 {
			return def
		}
		c := color.RGBA{A: 255}
		channels := []*uint8{&c.R, &c.G, &c.B}
		for i, ch := range channels {
			v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
			if err != nil {
				return def
			}
			*ch = clampByte(v)
		}
		if len(parts) >= 4 {
			a, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
			if err != nil {
				return def
			}
			c.A = clampByte(a * 255)
		}
		return premultiply(c)
	}
	return def
}

func parseHex(h string, def color.RGBA) color.RGBA {
	switch len(h) {
	case 3:
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	case 6, 8:
	default:
		return def
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return def
	}
	if len(h) == 6 {
		return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
	}
	return premultiply(color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)})
}

// premultiply converts straight alpha to the premultiplied form color.RGBA expects.
func premultiply(c color.RGBA) color.RGBA {
	if c.A == 255 {
		return c
	}
	a := uint32(c.A)
	return color.RGBA{
		R: uint8(uint32(c.R) * a / 255),
		G: uint8(uint32(c.G) * a / 255),
		B: uint8(uint32(c.B) * a / 255),
		A: c.A,
	}
}

func clampByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
