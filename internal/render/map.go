// Package render draws styled region collections with fogleman/gg.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"sort"
	"sync"

	"github.com/fogleman/gg"
	"github.com/paulmach/orb"

	"github.com/geochart/server/internal/overlay"
	"github.com/geochart/server/internal/style"
	"github.com/geochart/server/pkg/colormap"
)

// MaxSize bounds the width and height of a rendered image.
const MaxSize = 4096

// ErrInvalidSize is returned for image sizes outside 1..MaxSize.
var ErrInvalidSize = errors.New("invalid image size")

const (
	legendWidth  = 160
	legendHeight = 10
	legendMargin = 12
	pointRadius  = 4
)

// Config contains renderer configuration.
type Config struct {
	Width      int
	Height     int
	Padding    int
	Background colormap.Color
}

// Feature is one region geometry with its resolved style.
type Feature struct {
	Geometry orb.Geometry
	Style    style.Style
}

// LegendBar describes the value ramp drawn in a corner of the map.
type LegendBar struct {
	Ramp     colormap.Colormap
	Min, Max float64
	Position overlay.Position
	// Indicator is the relative position of the highlighted value, if any.
	Indicator *float64
}

// Scene is everything needed to draw one map image.
type Scene struct {
	Bound    orb.Bound
	Features []Feature
	Legend   *LegendBar
}

// MapRenderer renders scenes to PNG.
type MapRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
}

// NewMapRenderer creates a new map renderer.
func NewMapRenderer(cfg Config) *MapRenderer {
	if cfg.Background == (colormap.Color{}) {
		cfg.Background = colormap.RGB(255, 255, 255)
	}
	r := &MapRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.Width, cfg.Height)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 64*1024))
			},
		},
	}
	return r
}

// Size returns the default image size.
func (r *MapRenderer) Size() (int, int) {
	return r.config.Width, r.config.Height
}

// Render draws the scene at the given size. A zero size uses the default.
func (r *MapRenderer) Render(scene Scene, width, height int) ([]byte, error) {
	if width == 0 && height == 0 {
		width, height = r.config.Width, r.config.Height
	}
	if width <= 0 || height <= 0 || width > MaxSize || height > MaxSize {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}

	// Only default-sized contexts are pooled.
	var dc *gg.Context
	if width == r.config.Width && height == r.config.Height {
		dc = r.contextPool.Get().(*gg.Context)
		defer r.contextPool.Put(dc)
	} else {
		dc = gg.NewContext(width, height)
	}

	dc.SetColor(r.config.Background)
	dc.Clear()

	proj := fit(scene.Bound, width, height, r.config.Padding)

	features := make([]Feature, len(scene.Features))
	copy(features, scene.Features)
	sort.SliceStable(features, func(i, j int) bool {
		return features[i].Style.ZIndex < features[j].Style.ZIndex
	})
	for _, f := range features {
		drawFeature(dc, proj, f)
	}

	if scene.Legend != nil {
		drawLegend(dc, *scene.Legend)
	}

	return r.encodeContext(dc)
}

// projection maps plate carrée coordinates to pixels, y pointing down.
type projection struct {
	scale      float64
	offX, offY float64
	minX, maxY float64
}

func fit(b orb.Bound, width, height, padding int) projection {
	w := float64(width - 2*padding)
	h := float64(height - 2*padding)
	if w <= 0 || h <= 0 {
		w, h, padding = float64(width), float64(height), 0
	}

	dx := b.Max[0] - b.Min[0]
	dy := b.Max[1] - b.Min[1]
	var scale float64
	switch {
	case dx <= 0 && dy <= 0:
		scale = 1
	case dx <= 0:
		scale = h / dy
	case dy <= 0:
		scale = w / dx
	default:
		scale = math.Min(w/dx, h/dy)
	}

	return projection{
		scale: scale,
		offX:  float64(padding) + (w-dx*scale)/2,
		offY:  float64(padding) + (h-dy*scale)/2,
		minX:  b.Min[0],
		maxY:  b.Max[1],
	}
}

func (p projection) point(pt orb.Point) (float64, float64) {
	return p.offX + (pt[0]-p.minX)*p.scale, p.offY + (p.maxY-pt[1])*p.scale
}

func drawFeature(dc *gg.Context, p projection, f Feature) {
	st := f.Style
	fill := st.FillColor.WithAlpha(opacity(st.FillOpacity))
	stroke := st.StrokeColor.WithAlpha(opacity(st.StrokeOpacity))

	switch g := f.Geometry.(type) {
	case orb.Polygon:
		tracePolygon(dc, p, g)
		paint(dc, fill, stroke, st.StrokeWeight)
	case orb.MultiPolygon:
		for _, poly := range g {
			tracePolygon(dc, p, poly)
		}
		paint(dc, fill, stroke, st.StrokeWeight)
	case orb.Ring:
		tracePolygon(dc, p, orb.Polygon{g})
		paint(dc, fill, stroke, st.StrokeWeight)
	case orb.LineString:
		traceLine(dc, p, g)
		paint(dc, color.Transparent, stroke, st.StrokeWeight)
	case orb.MultiLineString:
		for _, ls := range g {
			traceLine(dc, p, ls)
		}
		paint(dc, color.Transparent, stroke, st.StrokeWeight)
	case orb.Point:
		x, y := p.point(g)
		dc.DrawCircle(x, y, pointRadius)
		paint(dc, fill, stroke, st.StrokeWeight)
	case orb.MultiPoint:
		for _, pt := range g {
			x, y := p.point(pt)
			dc.NewSubPath()
			dc.DrawCircle(x, y, pointRadius)
		}
		paint(dc, fill, stroke, st.StrokeWeight)
	case orb.Collection:
		for _, sub := range g {
			drawFeature(dc, p, Feature{Geometry: sub, Style: st})
		}
	}
}

func tracePolygon(dc *gg.Context, p projection, poly orb.Polygon) {
	for _, ring := range poly {
		if len(ring) == 0 {
			continue
		}
		dc.NewSubPath()
		for i, pt := range ring {
			x, y := p.point(pt)
			if i == 0 {
				dc.MoveTo(x, y)
			} else {
				dc.LineTo(x, y)
			}
		}
		dc.ClosePath()
	}
}

func traceLine(dc *gg.Context, p projection, ls orb.LineString) {
	dc.NewSubPath()
	for i, pt := range ls {
		x, y := p.point(pt)
		if i == 0 {
			dc.MoveTo(x, y)
		} else {
			dc.LineTo(x, y)
		}
	}
}

// paint fills and strokes the current path, then clears it.
func paint(dc *gg.Context, fill, stroke color.Color, weight float64) {
	dc.SetFillRule(gg.FillRuleEvenOdd)
	dc.SetColor(fill)
	dc.FillPreserve()
	if weight > 0 {
		dc.SetLineWidth(weight)
		dc.SetColor(stroke)
		dc.StrokePreserve()
	}
	dc.ClearPath()
}

func opacity(v float64) uint8 {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(math.Round(v * 255))
}

func drawLegend(dc *gg.Context, l LegendBar) {
	if l.Ramp == nil {
		return
	}
	w, h := float64(dc.Width()), float64(dc.Height())
	x, y := float64(legendMargin), h-legendMargin-legendHeight-14
	switch l.Position {
	case overlay.TopLeft:
		y = legendMargin + 14
	case overlay.TopRight:
		x, y = w-legendMargin-legendWidth, legendMargin+14
	case overlay.BottomRight:
		x = w - legendMargin - legendWidth
	}

	for i := 0; i < legendWidth; i++ {
		dc.SetColor(l.Ramp.At(float64(i) / float64(legendWidth-1)))
		dc.DrawRectangle(x+float64(i), y, 1, legendHeight)
		dc.Fill()
	}
	dc.SetLineWidth(1)
	dc.SetColor(color.Gray{Y: 0x88})
	dc.DrawRectangle(x, y, legendWidth, legendHeight)
	dc.Stroke()

	dc.SetColor(color.Black)
	dc.DrawStringAnchored(formatValue(l.Min), x, y-2, 0, 0)
	dc.DrawStringAnchored(formatValue(l.Max), x+legendWidth, y-2, 1, 0)

	if l.Indicator != nil {
		ix := x + clamp01(*l.Indicator)*(legendWidth-1)
		dc.MoveTo(ix, y+legendHeight)
		dc.LineTo(ix-4, y+legendHeight+6)
		dc.LineTo(ix+4, y+legendHeight+6)
		dc.ClosePath()
		dc.Fill()
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func formatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.4g", v)
}

func (r *MapRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// CreateEmptyImage creates a transparent image of the given size.
func (r *MapRenderer) CreateEmptyImage(width, height int) ([]byte, error) {
	if width == 0 && height == 0 {
		width, height = r.config.Width, r.config.Height
	}
	if width <= 0 || height <= 0 || width > MaxSize || height > MaxSize {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
		img.Pix[i+1] = 255
		img.Pix[i+2] = 255
		img.Pix[i+3] = 0
	}

	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
