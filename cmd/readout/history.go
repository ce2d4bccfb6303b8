// cmd/readout/history.go
package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tamzrod/crate-readout/internal/runlog"
	"github.com/tamzrod/crate-readout/internal/status"
)

var (
	historyDB    string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent run reports",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyDB, "db", "", "run history database")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "maximum number of runs")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if historyDB == "" {
		return errors.New("--db is required")
	}
	store, err := runlog.Open(historyDB)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Recent(cmd.Context(), historyLimit)
	if err != nil {
		return fmt.Errorf("history failed: %w", err)
	}
	if len(runs) == 0 {
		cmd.Println("No runs recorded.")
		return nil
	}

	for _, r := range runs {
		cmd.Printf("run %d  %s  crate=%s  block_level=%d  triggers=%d  %s\n",
			r.RunNumber, r.ID, r.Crate, r.BlockLevel, r.Triggers,
			r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond))
		for _, m := range r.Modules {
			cmd.Printf("    slot %2d %-12s %-8s timeouts=%d not_ready=%d block_errors=%d drain=%d soft=%d\n",
				m.Slot, m.Family, healthName(m.Health),
				m.Timeouts, m.NotReady, m.BlockErrors, m.DrainResiduals, m.SoftErrors)
		}
	}
	return nil
}

func healthName(h uint16) string {
	switch h {
	case status.HealthOK:
		return "ok"
	case status.HealthError:
		return "error"
	case status.HealthStuck:
		return "stuck"
	case status.HealthDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}
