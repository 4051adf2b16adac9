package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/fleetctl/core/journal"
	"github.com/kilianp07/fleetctl/pkg/export"
)

var journalFlags struct {
	channel string
	unit    int
	failed  bool
	limit   int
	since   time.Duration
	format  string
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Print commands recorded in the command journal",
	Args:  cobra.NoArgs,
	RunE:  queryJournal,
}

func init() {
	f := journalCmd.Flags()
	f.StringVar(&journalFlags.channel, "channel", "", "only commands of this channel")
	f.IntVar(&journalFlags.unit, "unit", 0, "only commands targeting this unit")
	f.BoolVar(&journalFlags.failed, "failed", false, "only failed deliveries")
	f.IntVar(&journalFlags.limit, "limit", 100, "most recent records to print, 0 for all")
	f.DurationVar(&journalFlags.since, "since", 0, "only records newer than this duration")
	f.StringVar(&journalFlags.format, "format", export.FormatJSON, "output format: json or csv")
	rootCmd.AddCommand(journalCmd)
}

func queryJournal(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Journal.Backend == "" || cfg.Journal.Backend == "none" {
		return fmt.Errorf("journal is disabled, set journal.backend")
	}
	store, err := journal.Open(cfg.Journal)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	q := journal.Query{
		Channel:    journalFlags.channel,
		UnitID:     journalFlags.unit,
		FailedOnly: journalFlags.failed,
		Limit:      journalFlags.limit,
	}
	if journalFlags.since > 0 {
		q.Start = time.Now().Add(-journalFlags.since)
	}
	recs, err := store.Query(cmd.Context(), q)
	if err != nil {
		return err
	}
	return export.Write(cmd.OutOrStdout(), journalFlags.format, recs)
}
