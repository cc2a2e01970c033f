package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fridgecal/fridgecal/pkg/calibration"
)

func NewCyclesCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "cycles",
		GroupID: gBasic,
		Short:   "List the compressor cycles of the current session",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cycles, err := apiClient().GetCycles()
			if err != nil {
				return fmt.Errorf("failed to get cycles: %w", err)
			}

			if len(cycles) == 0 {
				cmd.Println("No compressor cycles recorded yet.")
				return nil
			}

			printCycles(cmd, cycles)
			return nil
		},
	}
}

// printCycles prints records as a table, most recent first.
func printCycles(cmd *cobra.Command, cycles []calibration.CycleRecord) {
	cmd.Printf("  %-5s %-19s %-19s %9s %9s\n", "#", "START", "END", "START °C", "END °C")
	for i := len(cycles) - 1; i >= 0; i-- {
		r := cycles[i]

		end, endTemp := "-", "-"
		if r.EndTime != nil {
			end = r.EndTime.Local().Format(time.DateTime)
		}
		if r.EndTemp != nil {
			endTemp = fmt.Sprintf("%.2f", *r.EndTemp)
		}

		cmd.Printf("  %-5d %-19s %-19s %9.2f %9s\n",
			r.CycleNumber, r.StartTime.Local().Format(time.DateTime), end, r.StartTemp, endTemp)
	}
}
