package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fridgecal/fridgecal/pkg/calibration"
)

func NewStatusCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: gBasic,
		Short:   "Get the current calibration status",
		Long:    `Get the calibration state, the latest probe readings and the compressor cycle log of the current session.`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := apiClient().GetStatus()
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}

			if asJSON {
				b, err := json.MarshalIndent(st, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(b))
				return nil
			}

			printStatus(cmd, st)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw status as JSON")

	return cmd
}

func printStatus(cmd *cobra.Command, st *calibration.Status) {
	snap := st.Snapshot

	cmd.Println(bold("Calibration:"))
	cmd.Printf("  Session: %s\n", st.SessionID)
	cmd.Printf("  State: %s\n", stateText(st.State))
	if st.Message != "" {
		cmd.Printf("    %s\n", st.Message)
	}
	if !st.StartedAt.IsZero() {
		cmd.Printf("  Started: %s\n", st.StartedAt.Local().Format(time.DateTime))
	}
	if !st.StableSince.IsZero() {
		cmd.Printf("  Stable since: %s\n", st.StableSince.Local().Format(time.DateTime))
	}
	if !st.CalibratedAt.IsZero() {
		cmd.Printf("  Calibrated at: %s\n", st.CalibratedAt.Local().Format(time.DateTime))
	}

	cmd.Println()

	cmd.Println(bold("Unit:"))
	cmd.Printf("  Device: %s\n", string(snap.DeviceKind))
	if st.Setpoint != nil {
		cmd.Printf("  Setpoint: %s\n", bold("%.2f °C", *st.Setpoint))
	}
	cmd.Printf("  Reference: %s\n", bold("%.2f °C", snap.ReferenceTemperature))
	cmd.Printf("  Primary probe: %s (offset %+.2f)\n", tempText(snap.PrimaryTemperature, st.Setpoint), snap.PrimaryOffset)
	cmd.Printf("  Control probe: %s (offset %+.2f)\n", tempText(snap.ControlTemperature, st.Setpoint), snap.ControlOffset)
	cmd.Printf("  Compressor: %s\n", compressorText(snap.CompressorOn))

	cmd.Println()

	cmd.Println(bold("Cycles:"))
	cmd.Printf("  Recorded: %s\n", bold("%d", st.CycleCount))
	if st.WindowSize > 0 {
		cmd.Printf("  Last %d start temperatures: %s\n", st.WindowSize, bold("%.2f ± %.2f °C", st.WindowMean, st.WindowStdDev))
	}
	if len(st.RecentCycles) > 0 {
		printCycles(cmd, st.RecentCycles)
	}
}

func stateText(s calibration.State) string {
	switch s {
	case calibration.StateCalibrated:
		return color.New(color.Bold, color.FgGreen).Sprint(s.String())
	case calibration.StateTemperatureStable:
		return color.New(color.Bold, color.FgCyan).Sprint(s.String())
	default:
		return color.New(color.Bold, color.FgYellow).Sprint(s.String())
	}
}

// tempText colours a reading by whether it sits inside the calibration
// tolerance around the setpoint.
func tempText(v float64, setpoint *float64) string {
	s := fmt.Sprintf("%.2f °C", v)
	if setpoint == nil {
		return bold("%s", s)
	}
	d := v - *setpoint
	if d >= -calibration.CalibratedBuffer && d <= calibration.CalibratedBuffer {
		return color.New(color.Bold, color.FgGreen).Sprint(s)
	}
	return color.New(color.Bold, color.FgRed).Sprint(s)
}

func compressorText(on bool) string {
	if on {
		return color.New(color.Bold, color.FgGreen).Sprint("on")
	}
	return bold("off")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
