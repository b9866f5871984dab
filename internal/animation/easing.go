package animation

import "math"

// Timing names accepted from the editor.
const (
	TimingEase      = "ease"
	TimingEaseIn    = "ease-in"
	TimingEaseOut   = "ease-out"
	TimingEaseInOut = "ease-in-out"
	TimingLinear    = "linear"
)

// Curve is a CSS cubic-bezier timing function with fixed end points (0,0) and (1,1).
type Curve struct {
	X1, Y1, X2, Y2 float64
}

var curves = map[string]Curve{
	TimingEase:      {0.25, 0.1, 0.25, 1},
	TimingEaseIn:    {0.42, 0, 1, 1},
	TimingEaseOut:   {0, 0, 0.58, 1},
	TimingEaseInOut: {0.42, 0, 0.58, 1},
	TimingLinear:    {0, 0, 1, 1},
}

// NormalizeTiming maps unknown timing names to ease.
func NormalizeTiming(name string) string {
	if _, ok := curves[name]; ok {
		return name
	}
	return TimingEase
}

// CurveFor returns the curve for a timing name, defaulting to ease.
func CurveFor(name string) Curve {
	return curves[NormalizeTiming(name)]
}

// At returns eased progress for t in [0, 1]. Inputs outside the range are clamped.
func (c Curve) At(t float64) float64 {
	if math.IsNaN(t) || t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	if c.X1 == c.Y1 && c.X2 == c.Y2 {
		return t
	}
	return sample(c.Y1, c.Y2, c.solveX(t))
}

// sample evaluates one bezier coordinate at parameter s.
func sample(p1, p2, s float64) float64 {
	inv := 1 - s
	return 3*inv*inv*s*p1 + 3*inv*s*s*p2 + s*s*s
}

func sampleDerivative(p1, p2, s float64) float64 {
	inv := 1 - s
	return 3*inv*inv*p1 + 6*inv*s*(p2-p1) + 3*s*s*(1-p2)
}

// solveX finds s such that x(s) == x.
func (c Curve) solveX(x float64) float64 {
	const epsilon = 1e-7

	s := x
	for i := 0; i < 8; i++ {
		diff := sample(c.X1, c.X2, s) - x
		if math.Abs(diff) < epsilon {
			return s
		}
		d := sampleDerivative(c.X1, c.X2, s)
		if math.Abs(d) < 1e-6 {
			break
		}
		s -= diff / d
	}

	lo, hi := 0.0, 1.0
	s = x
	for lo < hi {
		v := sample(c.X1, c.X2, s)
		if math.Abs(v-x) < epsilon {
			return s
		}
		if x > v {
			lo = s
		} else {
			hi = s
		}
		next := (lo + hi) / 2
		if next == s {
			break
		}
		s = next
	}
	return s
}
