// Package charts renders the macro sentiment chart set as PNGs for
// the multimodal AI analysis.
package charts

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"sort"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"trading-analytics/internal/database"
)

const (
	chartWidth  = 800
	chartHeight = 400

	// minPoints is the smallest series the chart library will render
	minPoints = 2
)

// ChartSet holds the rendered PNGs. A nil slice means that chart
// failed to render; callers proceed with whatever is available.
type ChartSet struct {
	BTCPrice    []byte
	ETHPrice    []byte
	Dominance   []byte
	AltStrength []byte
	Combined    []byte
}

// Available returns the non-nil charts in presentation order
func (cs *ChartSet) Available() [][]byte {
	var out [][]byte
	for _, img := range [][]byte{cs.BTCPrice, cs.ETHPrice, cs.Dominance, cs.AltStrength, cs.Combined} {
		if len(img) > 0 {
			out = append(out, img)
		}
	}
	return out
}

// Renderer renders snapshot series into chart PNGs
type Renderer struct {
	timeout time.Duration
}

// NewRenderer creates a renderer with a hard per-set render timeout
func NewRenderer(timeout time.Duration) *Renderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Renderer{timeout: timeout}
}

// RenderAll renders the four single-metric charts plus the combined
// overview. Individual chart failures are tolerated; an error is
// returned only when the whole set fails or the render deadline is
// exceeded.
func (r *Renderer) RenderAll(ctx context.Context, snapshots []database.MarketSnapshot) (*ChartSet, error) {
	if len(snapshots) < minPoints {
		return nil, fmt.Errorf("need at least %d snapshots to render charts, have %d", minPoints, len(snapshots))
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type renderResult struct {
		set *ChartSet
		err error
	}
	done := make(chan renderResult, 1)

	go func() {
		set, err := r.renderSet(snapshots)
		done <- renderResult{set, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("chart rendering timed out after %s: %w", r.timeout, ctx.Err())
	case res := <-done:
		return res.set, res.err
	}
}

func (r *Renderer) renderSet(snapshots []database.MarketSnapshot) (*ChartSet, error) {
	sorted := make([]database.MarketSnapshot, len(snapshots))
	copy(sorted, snapshots)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	times := make([]time.Time, len(sorted))
	btc := make([]float64, len(sorted))
	eth := make([]float64, len(sorted))
	dom := make([]float64, len(sorted))
	alt := make([]float64, len(sorted))
	for i, s := range sorted {
		times[i] = s.Timestamp
		btc[i] = s.BTCPrice
		eth[i] = s.ETHPrice
		dom[i] = s.BTCDominance
		alt[i] = s.AltStrengthRatio
	}

	set := &ChartSet{}
	var failures int

	render := func(title, hexColor string, values []float64) []byte {
		img, err := renderTimeSeries(title, hexColor, times, values)
		if err != nil {
			failures++
			return nil
		}
		return img
	}

	set.BTCPrice = render("BTC Price (USD)", "f7931a", btc)
	set.ETHPrice = render("ETH Price (USD)", "627eea", eth)
	set.Dominance = render("BTC Dominance (%)", "2ecc71", dom)
	set.AltStrength = render("Alt Strength Ratio", "9b59b6", alt)

	if combined, err := composite2x2(set.BTCPrice, set.ETHPrice, set.Dominance, set.AltStrength); err == nil {
		set.Combined = combined
	} else {
		failures++
	}

	if failures >= 5 {
		return nil, fmt.Errorf("all charts failed to render")
	}
	return set, nil
}

func renderTimeSeries(title, hexColor string, times []time.Time, values []float64) ([]byte, error) {
	graph := chart.Chart{
		Title:  title,
		Width:  chartWidth,
		Height: chartHeight,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatterWithFormat("01-02 15:04"),
		},
		YAxis: chart.YAxis{
			ValueFormatter: chart.FloatValueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    title,
				XValues: times,
				YValues: values,
				Style: chart.Style{
					StrokeColor: drawing.ColorFromHex(hexColor),
					StrokeWidth: 2.0,
					FillColor:   drawing.ColorFromHex(hexColor).WithAlpha(30),
				},
			},
		},
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", title, err)
	}
	return buf.Bytes(), nil
}

// composite2x2 assembles the four charts into one overview image.
// Missing panels are left white.
func composite2x2(topLeft, topRight, bottomLeft, bottomRight []byte) ([]byte, error) {
	panels := [][]byte{topLeft, topRight, bottomLeft, bottomRight}
	var any bool
	for _, p := range panels {
		if len(p) > 0 {
			any = true
		}
	}
	if !any {
		return nil, fmt.Errorf("no panels to composite")
	}

	canvas := image.NewRGBA(image.Rect(0, 0, chartWidth*2, chartHeight*2))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	offsets := []image.Point{
		{0, 0},
		{chartWidth, 0},
		{0, chartHeight},
		{chartWidth, chartHeight},
	}
	for i, data := range panels {
		if len(data) == 0 {
			continue
		}
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			continue
		}
		rect := image.Rectangle{
			Min: offsets[i],
			Max: offsets[i].Add(img.Bounds().Size()),
		}
		draw.Draw(canvas, rect, img, img.Bounds().Min, draw.Src)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("failed to encode composite: %w", err)
	}
	return buf.Bytes(), nil
}
