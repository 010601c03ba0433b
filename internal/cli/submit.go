package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"depth-safety-alerts/internal/app"
)

var (
	submitLat        float64
	submitLon        float64
	submitDepth      float64
	submitDraft      float64
	submitConfidence float64
	submitSource     string
	submitMethod     string
	submitNotes      string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a crowdsourced depth reading",
	RunE: func(cmd *cobra.Command, args []string) error {
		if submitDepth <= 0 {
			return fmt.Errorf("--depth must be greater than zero")
		}
		if submitDraft <= 0 {
			return fmt.Errorf("--draft must be greater than zero")
		}

		opts := app.SubmitOptions{
			Lat:         submitLat,
			Lon:         submitLon,
			DepthMeters: submitDepth,
			DraftMeters: submitDraft,
			Confidence:  submitConfidence,
			Source:      submitSource,
			Method:      submitMethod,
			Notes:       submitNotes,
		}

		return getApp().Submit(cmd.Context(), opts)
	},
}

func init() {
	submitCmd.Flags().Float64Var(&submitLat, "lat", 0, "Latitude of the sounding")
	submitCmd.Flags().Float64Var(&submitLon, "lon", 0, "Longitude of the sounding")
	submitCmd.Flags().Float64Var(&submitDepth, "depth", 0, "Measured depth in meters")
	submitCmd.Flags().Float64Var(&submitDraft, "draft", 0, "Vessel draft in meters at measurement time")
	submitCmd.Flags().Float64Var(&submitConfidence, "confidence", 0.7, "Reporter confidence in [0, 1]")
	submitCmd.Flags().StringVar(&submitSource, "source", "crowdsource", "Reading source (crowdsource, official, predicted)")
	submitCmd.Flags().StringVar(&submitMethod, "method", "", "Measurement method, e.g. sounder or leadline")
	submitCmd.Flags().StringVar(&submitNotes, "notes", "", "Free-form notes")
}
