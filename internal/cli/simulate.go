package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"depth-safety-alerts/internal/app"
)

var (
	simulateLat   float64
	simulateLon   float64
	simulateDepth float64
	simulateTide  float64
	simulateWind  float64
	simulateWaves float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Evaluate synthetic conditions through one monitoring cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateDepth <= 0 {
			return errors.New("--depth must be greater than zero")
		}

		opts := app.SimulateOptions{
			Lat:         simulateLat,
			Lon:         simulateLon,
			DepthMeters: simulateDepth,
			TideHeightM: simulateTide,
			WindKnots:   simulateWind,
			WaveHeightM: simulateWaves,
		}

		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateLat, "lat", 37.8199, "Latitude of the synthetic reading")
	simulateCmd.Flags().Float64Var(&simulateLon, "lon", -122.4783, "Longitude of the synthetic reading")
	simulateCmd.Flags().Float64Var(&simulateDepth, "depth", 0, "Raw sounding depth in meters")
	simulateCmd.Flags().Float64Var(&simulateTide, "tide", 0, "Observed tide height in meters above datum")
	simulateCmd.Flags().Float64Var(&simulateWind, "wind", 0, "Wind speed in knots")
	simulateCmd.Flags().Float64Var(&simulateWaves, "waves", 0, "Wave height in meters")
}
