package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/storydesk/storydesk/internal/calibration"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate [fixture]",
	Short: "Check the threshold profile against a labelled fixture",
	Long: `Score every labelled pair in a calibration fixture with the configured
weights and thresholds, each against its own scratch database, and report
which pairs classify as labelled.

The fixture must be labelled for the configured profile_version. Defaults to
calibration.fixture from the config file.`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{noStore: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfg.Calibration.Fixture
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			return fmt.Errorf("no fixture given and calibration.fixture is not set")
		}

		ctx, cancel := signalContext()
		defer cancel()

		report, err := calibration.Check(ctx, path, cfg.Resolution)
		if report != nil {
			fmt.Print(report.String())
		}
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Profile %s is calibrated\n", green("✓"), cfg.Resolution.ProfileVersion)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(calibrateCmd)
}
