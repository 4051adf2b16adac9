package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetctl/core/channel"
	"github.com/kilianp07/fleetctl/core/status"
	"github.com/kilianp07/fleetctl/infra/logger"
	"github.com/kilianp07/fleetctl/infra/mqtt"
)

var consumeCmd = &cobra.Command{
	Use:       "consume <unit|navigation|display>",
	Short:     "Subscribe to a task channel and log every decoded command",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{channel.Unit, channel.Navigation, channel.Display},
	RunE:      consume,
}

func init() {
	rootCmd.AddCommand(consumeCmd)
}

func consume(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	name := args[0]
	log := logger.New("consumer_" + name)
	mc := cfg.MQTT
	// A distinct session so the consumer never steals the producer's queue.
	if mc.ClientID != "" {
		mc.ClientID += "-consumer"
	}
	ch, err := mqtt.NewChannel(ctx, mc, name, status.New(), log)
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	switch name {
	case channel.Unit:
		err = mqtt.Consume(ch, func(u channel.UnitID) error {
			log.Infof("unit %d has pending tasks", int(u))
			return nil
		})
	case channel.Navigation:
		err = mqtt.Consume(ch, func(n channel.NaviTarget) error {
			log.Infof("plan route for unit %d", int(n))
			return nil
		})
	case channel.Display:
		err = mqtt.Consume(ch, func(d channel.DisplayCommand) error {
			if d == channel.Terminal {
				log.Infof("run finished")
				return nil
			}
			log.Infof("display command %s", d)
			return nil
		})
	}
	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
