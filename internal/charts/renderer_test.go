package charts

import (
	"bytes"
	"context"
	"image/png"
	"testing"
	"time"

	"trading-analytics/internal/database"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func sampleSnapshots(n int) []database.MarketSnapshot {
	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	out := make([]database.MarketSnapshot, n)
	for i := range out {
		out[i] = database.MarketSnapshot{
			Timestamp:        base.Add(time.Duration(i) * time.Hour),
			BTCPrice:         50000 + float64(i)*100,
			ETHPrice:         3000 + float64(i)*10,
			BTCMarketCap:     1e12,
			ETHMarketCap:     4e11,
			TotalMarketCap:   2e12,
			BTCDominance:     50 + float64(i)*0.1,
			AltStrengthRatio: 2e7 + float64(i)*1e4,
		}
	}
	return out
}

func TestRenderAllProducesPNGs(t *testing.T) {
	r := NewRenderer(30 * time.Second)
	set, err := r.RenderAll(context.Background(), sampleSnapshots(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for name, img := range map[string][]byte{
		"btc":          set.BTCPrice,
		"eth":          set.ETHPrice,
		"dominance":    set.Dominance,
		"alt_strength": set.AltStrength,
		"combined":     set.Combined,
	} {
		if len(img) == 0 {
			t.Errorf("%s chart missing", name)
			continue
		}
		if !bytes.HasPrefix(img, pngMagic) {
			t.Errorf("%s chart is not a PNG", name)
		}
	}
	if got := len(set.Available()); got != 5 {
		t.Errorf("available charts = %d, want 5", got)
	}
}

func TestRenderAllRejectsShortSeries(t *testing.T) {
	r := NewRenderer(time.Second)
	if _, err := r.RenderAll(context.Background(), sampleSnapshots(1)); err == nil {
		t.Fatal("a single point cannot make a chart")
	}
	if _, err := r.RenderAll(context.Background(), nil); err == nil {
		t.Fatal("an empty series cannot make a chart")
	}
}

func TestCombinedIsTwoByTwoGrid(t *testing.T) {
	r := NewRenderer(30 * time.Second)
	set, err := r.RenderAll(context.Background(), sampleSnapshots(5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(set.Combined))
	if err != nil {
		t.Fatalf("combined chart does not decode: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != chartWidth*2 || bounds.Dy() != chartHeight*2 {
		t.Errorf("combined size = %dx%d, want %dx%d", bounds.Dx(), bounds.Dy(), chartWidth*2, chartHeight*2)
	}
}

func TestRenderAllSortsUnorderedInput(t *testing.T) {
	snapshots := sampleSnapshots(6)
	// Reverse the series; the renderer must sort by timestamp
	for i, j := 0, len(snapshots)-1; i < j; i, j = i+1, j-1 {
		snapshots[i], snapshots[j] = snapshots[j], snapshots[i]
	}

	r := NewRenderer(30 * time.Second)
	set, err := r.RenderAll(context.Background(), snapshots)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(set.BTCPrice) == 0 {
		t.Error("btc chart missing")
	}
}
