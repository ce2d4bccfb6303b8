// cmd/readout/plan.go
package main

import (
	"github.com/spf13/cobra"

	"github.com/tamzrod/crate-readout/internal/bank"
	"github.com/tamzrod/crate-readout/internal/bringup"
	"github.com/tamzrod/crate-readout/internal/planner"
	"github.com/tamzrod/crate-readout/internal/readout"
)

var planBlockLevel int

var planCmd = &cobra.Command{
	Use:   "plan <config.yaml>",
	Short: "Print the worst-case words of one block",
	Long: `Computes the capacity plan the crate would freeze at go: the
worst-case word count of one block for every family, the framing margin,
and whether the event buffer can hold it.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	planCmd.Flags().IntVar(&planBlockLevel, "block-level", 0, "block level to plan for (default: config value)")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args[0])
	if err != nil {
		return err
	}
	c := cfg.Crate

	bl := c.Trigger.BlockLevel
	if planBlockLevel > 0 {
		bl = planBlockLevel
	}

	plan, err := planner.ComputeMaxWords(bl, bringup.PlannerParams(c.Families), c.MarginWords)
	if err != nil {
		return err
	}

	cmd.Printf("crate %s, block level %d\n", c.Name, plan.BlockLevel)
	for _, b := range plan.Bounds {
		cmd.Printf("  %-12s %10d words\n", b.Name, b.Words)
	}
	cmd.Printf("  %-12s %10d words\n", "margin", plan.MarginWords)
	cmd.Printf("  %-12s %10d words\n", "total", plan.Total)

	// outer bank, trigger block and one header per family
	need := plan.Total + bank.HeaderWords*(2+len(plan.Bounds)) + readout.TriggerEventWords*bl
	if need > c.BufferWords {
		cmd.Printf("buffer %d words: TOO SMALL, need %d\n", c.BufferWords, need)
	} else {
		cmd.Printf("buffer %d words: ok, %d spare\n", c.BufferWords, c.BufferWords-need)
	}
	return nil
}
