package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetctl/core/store"
	"github.com/kilianp07/fleetctl/infra/logger"
	"github.com/kilianp07/fleetctl/infra/redis"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the control loop by setting StopMark",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setStopMark(cmd, "1")
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused control loop by clearing StopMark",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setStopMark(cmd, "0")
	},
}

func init() {
	rootCmd.AddCommand(pauseCmd, resumeCmd)
}

func setStopMark(cmd *cobra.Command, value string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := redis.New(cfg.Redis, nil, logger.New("redis"))
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Set(ctx, store.KeyStopMark, value); err != nil {
		return fmt.Errorf("set %s: %w", store.KeyStopMark, err)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", store.KeyStopMark, value)
	return err
}
