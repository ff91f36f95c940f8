package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/srg/beaconval/internal/config"
	"github.com/srg/beaconval/internal/history"
	"github.com/srg/beaconval/internal/validator"
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history [verdict-id]",
	Short: "Show recorded verdicts",
	Long: `Show verdicts recorded by earlier runs. Without arguments the most
recent verdicts are listed; with a verdict ID that verdict is shown with its
steps.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

var (
	historyLimit  int
	historyRun    string
	historyOutput string
)

func init() {
	initHistoryFlags()
}

func initHistoryFlags() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of verdicts to show")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "Only show verdicts of this run ID")
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", config.FormatText, "Output format (text, json)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.HistoryDB == "" {
		return ErrNoHistory
	}
	if historyOutput != config.FormatText && historyOutput != config.FormatJSON {
		return fmt.Errorf("invalid format '%s': must be one of [%s %s]", historyOutput, config.FormatText, config.FormatJSON)
	}

	var verdictID, runID ulid.ULID
	if len(args) == 1 {
		if verdictID, err = ulid.ParseStrict(args[0]); err != nil {
			return fmt.Errorf("invalid verdict ID %q: %w", args[0], err)
		}
	}
	if historyRun != "" {
		if runID, err = ulid.ParseStrict(historyRun); err != nil {
			return fmt.Errorf("invalid run ID %q: %w", historyRun, err)
		}
	}
	cmd.SilenceUsage = true

	store, err := history.Open(cfg.HistoryDB)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	var verdicts []validator.Verdict
	switch {
	case len(args) == 1:
		v, err := store.Get(ctx, verdictID)
		if err != nil {
			return err
		}
		verdicts = []validator.Verdict{v}
	case historyRun != "":
		verdicts, err = store.Run(ctx, runID)
	default:
		verdicts, err = store.Recent(ctx, historyLimit)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if historyOutput == config.FormatJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(verdicts)
	}

	if len(verdicts) == 0 {
		fmt.Fprintln(out, "No verdicts recorded")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tTEST\tRESULT\tADDRESS\tREASON")
	for _, v := range verdicts {
		result := "FAIL"
		if v.Passed {
			result = "PASS"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			v.ID, v.StartedAt.Local().Format(time.DateTime), v.Test, result, v.Address, v.Reason)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(args) == 1 {
		fmt.Fprintln(out)
		for _, step := range verdicts[0].Steps {
			mark := " "
			if step.Failed {
				mark = "x"
			}
			fmt.Fprintf(out, "  [%s] %d. %s\n", mark, step.Index+1, step.Description)
			if step.Reason != "" {
				fmt.Fprintf(out, "        %s\n", step.Reason)
			}
		}
	}
	return nil
}
