package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/diligentiq/engine/internal/types"
)

var processWatch bool

var processCmd = &cobra.Command{
	Use:   "process <run-id>",
	Short: "Start processing a run",
	Long: `Start the analysis pipeline for a run and wait for it to finish.

The run must exist and not already be processing or completed. With
--watch, per-stage progress is printed until the run reaches a terminal
state; without it the command returns once the worker has started.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := args[0]
		ctx := context.Background()

		orch, err := newOrchestrator(ctx)
		if err != nil {
			return err
		}

		res, err := orch.Start(ctx, runID)
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Printf("\n%s Processing started\n\n", green("✓"))
		fmt.Printf("  Run:        %s\n", cyan(res.RunID))
		fmt.Printf("  Checkpoint: %s\n", cyan(res.CheckpointID))
		fmt.Printf("  Documents:  %d\n", res.TotalDocuments)
		fmt.Println()

		if !processWatch {
			// Detached start still needs the worker to finish before the
			// process exits; a single-shot CLI has no server to hand off to.
			orch.Wait()
			return nil
		}

		lastStage := types.Stage("")
		for {
			time.Sleep(500 * time.Millisecond)

			run, err := store.GetRun(ctx, runID)
			if err != nil {
				return err
			}
			cp, err := store.GetCheckpoint(ctx, runID)
			if err == nil && cp.Stage != lastStage {
				lastStage = cp.Stage
				fmt.Printf("  %s stage: %s\n", color.HiBlackString("→"), cp.Stage)
			}

			if run.Status.IsTerminal() || run.Status == types.RunPaused ||
				run.Status == types.RunWaitingForValidation {
				orch.Wait()
				printRunOutcome(run, cp)
				if run.Status == types.RunFailed {
					os.Exit(1)
				}
				return nil
			}
		}
	},
}

func printRunOutcome(run *types.Run, cp *types.Checkpoint) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Println()
	switch run.Status {
	case types.RunCompleted:
		fmt.Printf("%s Run completed\n", green("✓"))
	case types.RunFailed:
		fmt.Printf("%s Run failed", red("✗"))
		if cp != nil && cp.LastError != "" {
			fmt.Printf(": %s", cp.LastError)
		}
		fmt.Println()
	case types.RunWaitingForValidation:
		fmt.Printf("%s Run is waiting for validation answers\n", yellow("⚠"))
	default:
		fmt.Printf("%s Run is %s\n", yellow("⚠"), run.Status)
	}

	if cp != nil {
		fmt.Printf("  Documents processed: %d (failed: %d)\n", cp.DocumentsProcessed, cp.DocumentsFailed)
		fmt.Printf("  Cost: $%.4f (%d in / %d out tokens)\n", cp.CostUSD, cp.InputTokens, cp.OutputTokens)
	}
}

func init() {
	rootCmd.AddCommand(processCmd)
	processCmd.Flags().BoolVar(&processWatch, "watch", true, "Print stage progress until the run finishes")
}
