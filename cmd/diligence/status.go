package main

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/diligentiq/engine/internal/storage"
	"github.com/diligentiq/engine/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show a run's stage progress, finding counts, and cost",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := args[0]
		ctx := context.Background()

		run, err := store.GetRun(ctx, runID)
		if err != nil {
			return fmt.Errorf("run %s: %w", runID, err)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Run "+run.ID+" ==="))
		fmt.Printf("  Case:   %s\n", run.CaseID)
		fmt.Printf("  Status: %s\n", statusColor(run.Status)(string(run.Status)))
		fmt.Printf("  Tier:   %s\n", run.Tier)
		fmt.Printf("  Documents selected: %d\n", len(run.DocumentIDs))

		cp, err := store.GetCheckpoint(ctx, runID)
		switch {
		case err == nil:
			fmt.Printf("\n%s\n", yellow("Pipeline:"))
			fmt.Printf("  Stage: %s\n", cp.Stage)
			printStageProgress(cp)
			fmt.Printf("  Documents processed: %d (failed: %d)\n", cp.DocumentsProcessed, cp.DocumentsFailed)
			if cp.LastError != "" {
				fmt.Printf("  Last error: %s\n", color.RedString(cp.LastError))
			}
			fmt.Printf("\n%s\n", yellow("Cost:"))
			fmt.Printf("  $%.4f (%d input / %d output tokens)\n", cp.CostUSD, cp.InputTokens, cp.OutputTokens)
		case errors.Is(err, storage.ErrNotFound):
			fmt.Printf("\n  %s\n", gray("Not started"))
		default:
			return err
		}

		counts, err := store.CountFindingsByStatus(ctx, runID)
		if err != nil {
			return err
		}
		if len(counts) > 0 {
			fmt.Printf("\n%s\n", yellow("Findings:"))
			for _, status := range []types.FindingStatus{
				types.StatusRed, types.StatusAmber, types.StatusYellow, types.StatusGreen, types.StatusInfo,
			} {
				if n := counts[status]; n > 0 {
					fmt.Printf("  %s %d\n", findingColor(status)(string(status)+":"), n)
				}
			}
		}
		fmt.Println()
		return nil
	},
}

// printStageProgress renders per-stage percentages in pipeline order
func printStageProgress(cp *types.Checkpoint) {
	if len(cp.PassProgress) == 0 {
		return
	}
	stages := make([]string, 0, len(cp.PassProgress))
	for s := range cp.PassProgress {
		stages = append(stages, s)
	}
	sort.Slice(stages, func(i, j int) bool {
		return types.Stage(stages[i]).Ordinal() < types.Stage(stages[j]).Ordinal()
	})
	for _, s := range stages {
		fmt.Printf("    %-24s %3d%%\n", s, cp.PassProgress[s])
	}
}

func statusColor(s types.RunStatus) func(a ...interface{}) string {
	switch s {
	case types.RunCompleted:
		return color.New(color.FgGreen).SprintFunc()
	case types.RunFailed, types.RunCancelled:
		return color.New(color.FgRed).SprintFunc()
	case types.RunProcessing, types.RunWaitingForValidation:
		return color.New(color.FgYellow).SprintFunc()
	default:
		return color.New(color.FgHiBlack).SprintFunc()
	}
}

func findingColor(s types.FindingStatus) func(a ...interface{}) string {
	switch s {
	case types.StatusRed:
		return color.New(color.FgRed).SprintFunc()
	case types.StatusAmber, types.StatusYellow:
		return color.New(color.FgYellow).SprintFunc()
	case types.StatusGreen:
		return color.New(color.FgGreen).SprintFunc()
	default:
		return color.New(color.FgHiBlack).SprintFunc()
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
