package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"depth-safety-alerts/internal/ingest"
)

func areaQuery(opts AreaOptions) ingest.AreaQuery {
	return ingest.AreaQuery{
		Bounds:        opts.Bounds,
		VesselDraft:   opts.VesselDraft,
		MinConfidence: opts.MinConfidence,
		Limit:         opts.Limit,
	}
}

// Area prints readings and grid aggregates for a bounding box.
func (a *App) Area(ctx context.Context, opts AreaOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("database not configured; cannot query area")
	}
	if closeStore != nil {
		defer closeStore()
	}

	svc := a.newIngest(store, nil)

	result, err := svc.DepthDataForArea(ctx, areaQuery(opts))
	if err != nil {
		return err
	}

	if len(result.Readings) == 0 {
		fmt.Fprintln(os.Stdout, "no readings found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tLat\tLon\tDepth (m)\tConfidence\tSource")
	for _, r := range result.Readings {
		fmt.Fprintf(
			writer,
			"%s\t%.5f\t%.5f\t%.2f\t%.2f\t%s\n",
			r.Timestamp.UTC().Format(time.RFC3339),
			r.Location.Lat,
			r.Location.Lon,
			r.DepthMeters,
			r.Confidence,
			r.Source,
		)
	}
	writer.Flush()

	if len(result.Cells) > 0 {
		fmt.Fprintln(os.Stdout)
		cellWriter := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(cellWriter, "Cell Lat\tCell Lon\tCount\tAvg (m)\tMin (m)\tMax (m)")
		for _, c := range result.Cells {
			fmt.Fprintf(
				cellWriter,
				"%.5f\t%.5f\t%d\t%s\t%s\t%s\n",
				c.CellLat,
				c.CellLon,
				c.ReadingCount,
				c.AvgDepth.StringFixed(2),
				c.MinDepth.StringFixed(2),
				c.MaxDepth.StringFixed(2),
			)
		}
		cellWriter.Flush()
	}

	fmt.Fprintf(os.Stdout, "\ndata quality score: %.1f/100\n", result.DataQualityScore)
	for _, warning := range result.SafetyWarnings {
		fmt.Fprintf(os.Stdout, "warning: %s\n", warning)
	}
	return nil
}
