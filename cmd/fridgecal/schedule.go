package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fridgecal/fridgecal/pkg/types"
)

func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule [cron-expression]",
		Aliases: []string{"sch", "sched"},
		Short:   "Manage automatic session restarts",
		Long: `Manage automatic session restarts.

The schedule command can be used in multiple ways:
  fridgecal schedule 'minute hour day month weekday' Set schedule with cron expression
  fridgecal schedule disable                         Disable the schedule
  fridgecal schedule skip                            Skip next run
  fridgecal schedule show                            Show current schedule`,
		Example: `  fridgecal schedule '0 6 * * 1' (At 06:00 on Monday)
  fridgecal schedule '0 6 1 * *' (At 06:00 on the first day of every month)`,
		GroupID: gAdvanced,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runScheduleShow(cmd)
			}
			return runScheduleSet(cmd, args[0])
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "disable",
			Short: "Disable automatic session restarts",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if _, err := apiClient().SetSchedule(""); err != nil {
					return err
				}
				cmd.Println("Session schedule disabled.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "skip",
			Short: "Skip the next scheduled session restart",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				info, err := apiClient().SkipSchedule()
				if err != nil {
					return err
				}
				cmd.Println("Next scheduled restart skipped.")
				printSchedule(cmd, info)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Show the current schedule",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runScheduleShow(cmd)
			},
		},
	)

	return cmd
}

func runScheduleSet(cmd *cobra.Command, cronExpr string) error {
	if cronExpr == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}
	info, err := apiClient().SetSchedule(cronExpr)
	if err != nil {
		return err
	}
	cmd.Println("Session restart scheduled.")
	printSchedule(cmd, info)
	return nil
}

func runScheduleShow(cmd *cobra.Command) error {
	info, err := apiClient().GetSchedule()
	if err != nil {
		return err
	}
	printSchedule(cmd, info)
	return nil
}

func printSchedule(cmd *cobra.Command, info *types.Schedule) {
	if !info.Enabled {
		cmd.Println("Session schedule is not set.")
		return
	}
	cmd.Printf("  Cron: %s\n", bold("%s", info.Cron))
	if info.NextRun != nil {
		cmd.Printf("  Next run: %s\n", info.NextRun.Local().Format(time.DateTime))
	}
}
