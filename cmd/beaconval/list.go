package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the available conformance tests",
	Long: `List every test of the built-in suites and of the suite files given
with --suite or the configuration file.`,
	RunE: runList,
}

var listSteps bool

func init() {
	initListFlags()
}

func initListFlags() {
	listCmd.Flags().BoolVarP(&listSteps, "steps", "s", false, "Show the steps of every test")
}

func runList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	sel, err := loadSelection(cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SUITE\tTEST\tREFERENCE\tTITLE")
	for _, s := range sel.Suites() {
		for _, t := range s.Tests {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, t.Name, t.Reference, t.Title)
			if !listSteps {
				continue
			}
			script, err := s.Script(t.Name)
			if err != nil {
				return err
			}
			for _, step := range script.Steps() {
				fmt.Fprintf(tw, "\t\t\t  %d. %s\n", step.Index+1, step.Description)
			}
		}
	}
	return tw.Flush()
}
