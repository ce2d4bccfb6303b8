// cmd/readout/run.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tamzrod/crate-readout/internal/bringup"
	"github.com/tamzrod/crate-readout/internal/config"
	"github.com/tamzrod/crate-readout/internal/export"
	exportmodbus "github.com/tamzrod/crate-readout/internal/export/modbus"
	"github.com/tamzrod/crate-readout/internal/lifecycle"
	"github.com/tamzrod/crate-readout/internal/logging"
	"github.com/tamzrod/crate-readout/internal/readout"
	"github.com/tamzrod/crate-readout/internal/runlog"
	"github.com/tamzrod/crate-readout/internal/sim"
	"github.com/tamzrod/crate-readout/internal/sink/ingest"
	"github.com/tamzrod/crate-readout/internal/trigger"
)

var (
	runTriggers    int
	runNumber      int
	runStrictSetup bool
)

var runCmd = &cobra.Command{
	Use:   "run <config.yaml>",
	Short: "Run the crate until the trigger count or a signal",
	Long: `Downloads, prestarts and starts the crate, services triggers until
--triggers have been read or SIGINT/SIGTERM arrives, then ends the run.
Cleanup always runs.

Modules that fail setup are excluded and the run continues with the rest,
unless --strict-setup is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVarP(&runTriggers, "triggers", "n", 0, "stop after this many triggers (0 = until signalled)")
	runCmd.Flags().IntVar(&runNumber, "run-number", 0, "run number recorded in the run history")
	runCmd.Flags().BoolVar(&runStrictSetup, "strict-setup", false, "abort when any module fails setup")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args[0])
	if err != nil {
		return err
	}
	c := cfg.Crate

	log, err := logging.New(cmd.ErrOrStderr(), c.Log.Level, c.Log.Format)
	if err != nil {
		return err
	}
	log = log.With("crate", c.Name)

	// --------------------
	// Outputs
	// --------------------

	deps, closeOutputs, err := buildOutputs(c, log)
	if err != nil {
		return err
	}
	defer closeOutputs()

	// --------------------
	// Trigger + bring-up
	// --------------------

	role, err := trigger.ParseRole(c.Trigger.Role)
	if err != nil {
		return err
	}

	deps.Trigger = sim.NewPulser(sim.PulserConfig{
		RateHz:      c.Trigger.RateHz,
		Schedule:    trigger.Schedule{Interval: c.Trigger.SyncInterval},
		BlockLevel:  c.Trigger.BlockLevel,
		BufferLevel: c.Trigger.BufferLevel,
	})
	deps.Bringup = bringup.NewBuilder(bringup.NewRegistry(), c.Families, log)
	deps.Log = log

	ctl, err := lifecycle.New(lifecycle.Config{
		Crate:     c.Name,
		RunNumber: runNumber,
		Readout: readout.Config{
			ROCTag:      c.ROCTag,
			BufferWords: c.BufferWords,
			FlushLimit:  c.FlushLimit,
		},
		MarginWords: c.MarginWords,
		Role:        role,
		Limits: trigger.Limits{
			MaxBlock:  c.Trigger.MaxSlaveBlockLevel,
			MaxBuffer: c.Trigger.MaxSlaveBufferLevel,
		},
	}, deps)
	if err != nil {
		return err
	}
	defer ctl.Cleanup()

	// --------------------
	// Download / prestart / go
	// --------------------

	if err := ctl.Download(); err != nil {
		var se *lifecycle.SetupError
		if !errors.As(err, &se) || se.Fatal() || runStrictSetup {
			return fmt.Errorf("download failed: %w", err)
		}
		log.Warn("continuing without failed modules", "failed", len(se.Faults))
	}
	if err := ctl.Prestart(); err != nil {
		return fmt.Errorf("prestart failed: %w", err)
	}
	if err := ctl.Go(); err != nil {
		return fmt.Errorf("go failed: %w", err)
	}

	// --------------------
	// Running
	// --------------------

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	runErr := ctl.Run(ctx, runTriggers)
	elapsed := time.Since(start)

	// end must not see the cancelled run context
	endCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	endErr := ctl.End(endCtx)

	printSummary(cmd.OutOrStdout(), ctl, elapsed)

	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}
	if endErr != nil {
		return fmt.Errorf("end failed: %w", endErr)
	}
	return nil
}

// buildOutputs creates the optional status, history and event outputs.
func buildOutputs(c config.CrateConfig, log *slog.Logger) (lifecycle.Deps, func(), error) {
	var (
		deps    lifecycle.Deps
		closers []io.Closer
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}

	if s := c.Status; s != nil {
		cli, err := exportmodbus.NewClient(exportmodbus.Config{
			Endpoint: s.Endpoint,
			Timeout:  time.Duration(s.TimeoutMs) * time.Millisecond,
		})
		if err != nil {
			closeAll()
			return deps, nil, fmt.Errorf("status endpoint %s: %w", s.Endpoint, err)
		}
		closers = append(closers, cli)

		pub, err := export.NewPublisher(export.Config{UnitID: s.UnitID, BaseSlot: s.BaseSlot}, cli, log)
		if err != nil {
			closeAll()
			return deps, nil, err
		}
		deps.Publisher = pub
	}

	if r := c.Runlog; r != nil {
		store, err := runlog.Open(r.Path)
		if err != nil {
			closeAll()
			return deps, nil, err
		}
		closers = append(closers, store)
		deps.Recorder = store
	}

	if s := c.Sink; s != nil {
		cli, err := ingest.NewClient(ingest.Config{
			Endpoint: s.Endpoint,
			Timeout:  time.Duration(s.TimeoutMs) * time.Millisecond,
		})
		if err != nil {
			closeAll()
			return deps, nil, err
		}
		closers = append(closers, cli)
		deps.Sink = cli
		logging.For(log, logging.ComponentSink).Info("shipping events", "endpoint", s.Endpoint)
	}

	return deps, closeAll, nil
}

func printSummary(w io.Writer, ctl *lifecycle.Controller, elapsed time.Duration) {
	fmt.Fprintf(w, "run %s: %d triggers in %s, block level %d\n",
		ctl.RunID(), ctl.Triggers(), elapsed.Round(time.Millisecond), ctl.Levels().Block)

	counters := ctl.Counters()
	if counters == nil {
		return
	}
	for _, m := range counters.Snapshot() {
		fmt.Fprintf(w, "  slot %2d %-12s %-8s timeouts=%d not_ready=%d block_errors=%d drain=%d soft=%d\n",
			m.Slot, m.Family, healthName(m.Health),
			m.Timeouts, m.NotReady, m.BlockErrors, m.DrainResiduals, m.SoftErrors)
	}
}
