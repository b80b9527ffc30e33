// Package charts validates and bounds visualization specs produced by runs.
package charts

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/xiaot623/gogo/runview/internal/domain"
	"github.com/xiaot623/gogo/runview/internal/metrics"
)

const (
	// MaxChartsPerMessage bounds how many charts one message carries.
	MaxChartsPerMessage = 5

	// MaxRowsPerChart bounds the data rows kept per chart.
	MaxRowsPerChart = 50
)

var chartValidate = validator.New()

// Validate checks a spec against the chart schema. The x and y keys must be
// present in the first data row.
func Validate(spec domain.ChartSpec) error {
	if err := chartValidate.Struct(spec); err != nil {
		return fmt.Errorf("invalid chart spec: %w", err)
	}
	first := spec.Data[0]
	if _, ok := first[spec.XKey]; !ok {
		return fmt.Errorf("invalid chart spec: x_key %q missing from first data row", spec.XKey)
	}
	for _, y := range spec.YKeys {
		if _, ok := first[y]; !ok {
			return fmt.Errorf("invalid chart spec: y_key %q missing from first data row", y)
		}
	}
	return nil
}

// Sanitize validates each raw spec, drops the invalid ones and caps both the
// number of charts and the rows per chart. Row order is preserved. A nil
// result means no charts.
func Sanitize(raw []json.RawMessage) []domain.ChartSpec {
	var out []domain.ChartSpec
	for i, r := range raw {
		if len(out) == MaxChartsPerMessage {
			break
		}
		var spec domain.ChartSpec
		if err := json.Unmarshal(r, &spec); err != nil {
			slog.Debug("Dropping undecodable chart spec", "index", i, "error", err)
			metrics.ChartsRejected.Inc()
			continue
		}
		if err := Validate(spec); err != nil {
			slog.Debug("Dropping chart spec", "index", i, "error", err)
			metrics.ChartsRejected.Inc()
			continue
		}
		if len(spec.Data) > MaxRowsPerChart {
			spec.Data = spec.Data[:MaxRowsPerChart:MaxRowsPerChart]
		}
		out = append(out, spec)
	}
	return out
}

// FromOutput pulls the visualization list out of a node output object,
// accepting either a "visualizations" or a "charts" array.
func FromOutput(output map[string]any) []json.RawMessage {
	for _, key := range []string{"visualizations", "charts"} {
		list, ok := output[key].([]any)
		if !ok {
			continue
		}
		raw := make([]json.RawMessage, 0, len(list))
		for _, item := range list {
			b, err := json.Marshal(item)
			if err != nil {
				continue
			}
			raw = append(raw, b)
		}
		return raw
	}
	return nil
}
