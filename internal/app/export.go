package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"depth-safety-alerts/internal/storage"
)

// Export renders processed depth history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	records, err := store.ListProcessedBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Msg("no processed readings found for export window")
		return nil
	}

	downsampled := downsampleRecords(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting processed readings")

	if opts.CSVPath != "" {
		if err := writeRecordsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeRecordsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRecords(records []storage.ProcessedRecord, max int) []storage.ProcessedRecord {
	if max <= 0 || len(records) <= max {
		return records
	}

	result := make([]storage.ProcessedRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeRecordsCSV(path string, records []storage.ProcessedRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "reading_id", "raw_depth_m", "corrected_depth_m", "safety_margin_m", "tide_method", "confidence", "quality", "reliability", "warnings"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, record := range records {
		row := []string{
			record.Timestamp.Format(time.RFC3339),
			record.ReadingID,
			record.RawDepth.StringFixed(2),
			record.CorrectedDepth.StringFixed(2),
			record.SafetyMargin.StringFixed(2),
			record.TideMethod,
			formatFloat(record.Confidence),
			formatFloat(record.QualityOverall),
			record.Reliability,
			strings.Join(record.Warnings, "; "),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeRecordsPNG(path string, records []storage.ProcessedRecord) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(records))
	raw := make([]float64, len(records))
	corrected := make([]float64, len(records))
	margin := make([]float64, len(records))

	for i, record := range records {
		x[i] = record.Timestamp
		raw[i] = record.RawDepth.InexactFloat64()
		corrected[i] = record.CorrectedDepth.InexactFloat64()
		margin[i] = record.SafetyMargin.InexactFloat64()
	}

	depthFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Depth (m)",
			ValueFormatter: depthFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Margin (m)",
			ValueFormatter: depthFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Raw depth",
				XValues: x,
				YValues: raw,
			},
			chart.TimeSeries{
				Name:    "Corrected depth",
				XValues: x,
				YValues: corrected,
			},
			chart.TimeSeries{
				Name:    "Safety margin",
				XValues: x,
				YValues: margin,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatFloat(v float64) string {
	return chart.FloatValueFormatterWithFormat(v, "%.2f")
}
