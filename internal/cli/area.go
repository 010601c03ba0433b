package cli

import (
	"github.com/spf13/cobra"

	"depth-safety-alerts/internal/app"
	"depth-safety-alerts/internal/geo"
)

var (
	areaNorth         float64
	areaSouth         float64
	areaEast          float64
	areaWest          float64
	areaDraft         float64
	areaMinConfidence float64
	areaLimit         int
)

var areaCmd = &cobra.Command{
	Use:   "area",
	Short: "Query depth data for a bounding box",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.AreaOptions{
			Bounds: geo.BoundingBox{
				North: areaNorth,
				South: areaSouth,
				East:  areaEast,
				West:  areaWest,
			},
			VesselDraft:   areaDraft,
			MinConfidence: areaMinConfidence,
			Limit:         areaLimit,
		}

		return getApp().Area(cmd.Context(), opts)
	},
}

func init() {
	areaCmd.Flags().Float64Var(&areaNorth, "north", 0, "Northern latitude bound")
	areaCmd.Flags().Float64Var(&areaSouth, "south", 0, "Southern latitude bound")
	areaCmd.Flags().Float64Var(&areaEast, "east", 0, "Eastern longitude bound")
	areaCmd.Flags().Float64Var(&areaWest, "west", 0, "Western longitude bound")
	areaCmd.Flags().Float64Var(&areaDraft, "draft", 0, "Vessel draft in meters for safety warnings (0 disables)")
	areaCmd.Flags().Float64Var(&areaMinConfidence, "min-confidence", 0, "Minimum reading confidence filter")
	areaCmd.Flags().IntVar(&areaLimit, "limit", 200, "Maximum readings to return")
}
