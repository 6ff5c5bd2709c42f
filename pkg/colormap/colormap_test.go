package colormap

import (
	"image/color"
	"math"
	"testing"
)

func TestInterpolateEndpoints(t *testing.T) {
	t.Parallel()

	pairs := [][2]Color{
		{MustParse("#efe6dc"), MustParse("#109618")},
		{MustParse("#000"), MustParse("#fff")},
		{MustParse("rgba(10,20,30,0.5)"), MustParse("red")},
	}
	for _, p := range pairs {
		if got := Interpolate(p[0], p[1], 0); got != p[0] {
			t.Errorf("Interpolate(%v, %v, 0) = %v", p[0], p[1], got)
		}
		if got := Interpolate(p[0], p[1], 1); got != p[1] {
			t.Errorf("Interpolate(%v, %v, 1) = %v", p[0], p[1], got)
		}
	}
}

func TestInterpolateClampsAndRounds(t *testing.T) {
	t.Parallel()

	low := RGB(0, 0, 0)
	high := RGB(255, 1, 3)

	if got := Interpolate(low, high, -3); got != low {
		t.Fatalf("expected clamp to low, got %v", got)
	}
	if got := Interpolate(low, high, 7); got != high {
		t.Fatalf("expected clamp to high, got %v", got)
	}
	if got := Interpolate(low, high, math.NaN()); got != low {
		t.Fatalf("expected NaN to map to low, got %v", got)
	}

	// 255*0.5 = 127.5, 1*0.5 = 0.5, 3*0.5 = 1.5 all round up.
	want := RGB(128, 1, 2)
	if got := Interpolate(low, high, 0.5); got != want {
		t.Fatalf("Interpolate(0.5) = %v, want %v", got, want)
	}
}

func TestAxisDegenerateAlwaysHigh(t *testing.T) {
	t.Parallel()

	fill := Gradient{Low: MustParse("#efe6dc"), High: MustParse("#109618")}
	stroke := Gradient{Low: MustParse("#d7cfc6"), High: MustParse("0e8716")}
	axis := BuildAxis(fill, stroke, 42, 42)

	if !axis.Degenerate() {
		t.Fatal("expected degenerate axis")
	}
	for _, q := range []float64{0, 0.3, 1, -1, math.NaN(), math.Inf(1)} {
		got := axis.RelativeColors(q)
		if got.Fill != fill.High || got.Stroke != stroke.High {
			t.Fatalf("RelativeColors(%v) = %+v, want high endpoints", q, got)
		}
		if c, ok := axis.At(q).(Color); !ok || c != fill.High {
			t.Fatalf("At(%v) disagrees with RelativeColors", q)
		}
	}
}

func TestAxisFillAndStrokeShareRounding(t *testing.T) {
	t.Parallel()

	g := Gradient{Low: RGB(0, 0, 0), High: RGB(255, 255, 255)}
	axis := BuildAxis(g, g, 0, 10)
	for i := 0; i <= 10; i++ {
		p := axis.RelativeColors(float64(i) / 10)
		if p.Fill != p.Stroke {
			t.Fatalf("fill %v and stroke %v diverged at %d", p.Fill, p.Stroke, i)
		}
	}
}

func TestGradientImplementsColormap(t *testing.T) {
	t.Parallel()

	var cm Colormap = Gradient{Low: RGB(211, 211, 211), High: RGB(255, 0, 0)}
	c0, ok := cm.At(0).(Color)
	if !ok {
		t.Fatalf("expected Color at t=0")
	}
	if c0 != RGB(211, 211, 211) {
		t.Fatalf("unexpected At(0): %#v", c0)
	}

	r, g, b, a := cm.At(1).RGBA()
	want := color.RGBA{R: 255, A: 255}
	wr, wg, wb, wa := want.RGBA()
	if r != wr || g != wg || b != wb || a != wa {
		t.Fatalf("unexpected At(1): %d %d %d %d", r, g, b, a)
	}
}
