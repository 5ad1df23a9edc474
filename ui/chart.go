package ui

import (
	"fmt"
	"math"
	"strings"

	"github.com/ftahirops/streamvis/model"
)

// sparkBlocks are the fractional fill characters, empty to full.
var sparkBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// sparkline renders one metric from a gauge's history as a single-row
// block-character strip scaled to the observed min/max.
func sparkline(history []model.HistoryPoint, metric string, width int) string {
	values := make([]float64, 0, len(history))
	for _, p := range history {
		v := p.Stage
		if metric == "flow" {
			v = p.Flow
		}
		if v != nil {
			values = append(values, *v)
		}
	}
	if len(values) == 0 {
		return dimStyle.Render("no data")
	}
	values = resample(values, width)

	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo
	var sb strings.Builder
	for _, v := range values {
		idx := 0
		if span > 0 {
			idx = int((v - lo) / span * float64(len(sparkBlocks)-1))
		}
		sb.WriteRune(sparkBlocks[idx])
	}
	return fmt.Sprintf("%s  %s",
		okStyle.Render(sb.String()),
		dimStyle.Render(fmt.Sprintf("[%.2f … %.2f]", lo, hi)))
}

// resample squeezes or stretches values to exactly width samples.
func resample(values []float64, width int) []float64 {
	if width <= 0 || len(values) == 0 {
		return values
	}
	if len(values) <= width {
		return values
	}
	out := make([]float64, width)
	for i := range out {
		pos := float64(i) / float64(width-1) * float64(len(values)-1)
		out[i] = values[int(pos)]
	}
	return out
}
