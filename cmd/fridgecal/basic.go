package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fridgecal/fridgecal/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("client: %s %s\n", version.Version, version.GitCommit)
			if v, err := apiClient().GetVersion(); err == nil {
				cmd.Printf("daemon: %s %s\n", v.Version, v.GitCommit)
			}
		},
	}
}

func NewRestartCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "restart",
		Short:   "Start a new calibration session",
		GroupID: gBasic,
		Long: `Start a new calibration session.

The current session is abandoned, its cycle log is cleared and the controller
goes back to waiting for the temperature to stabilize. Use this after a
session has reached Calibrated to calibrate the unit again.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			sess, err := apiClient().RestartSession()
			if err != nil {
				return fmt.Errorf("failed to restart session: %w", err)
			}

			logrus.WithField("session", sess.SessionID).Info("new calibration session started")
			return nil
		},
	}
}
