package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/llmselect/llmselect-chat/internal/web"
	"github.com/llmselect/llmselect-chat/pkg/models"
)

func init() {
	rootCmd.AddCommand(modelsCmd, statsCmd)
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the selectable deployments and their rates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore(cmd.Context())
		if err != nil {
			return err
		}
		list := core.Catalog.Models()
		out := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintln(out, "No deployments configured.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MODEL\tREGION\tTYPE\tCONSTRUCTOR\tIN/1K\tOUT/1K")
		for _, d := range list {
			p := core.Pricing.ForModel(d.DeploymentName, d.ModelType)
			fmt.Fprintf(w, "%s %s\t%s\t%s\t%s\t%s\t%s\n",
				d.ConstructorIcon, d.DeploymentName, d.Region, d.ModelType, d.Constructor,
				web.USD(p.PromptPer1K), web.USD(p.CompletionPer1K))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%d deployments from %s, loaded %s\n",
			len(list), core.Catalog.Source(), humanize.Time(core.Catalog.LoadedAt()))
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show usage totals across all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore(cmd.Context())
		if err != nil {
			return err
		}
		usage, err := core.Sessions.Usage(cmd.Context())
		if err != nil {
			return err
		}
		printUsage(cmd.OutOrStdout(), usage)
		return nil
	},
}

// barWidth is the width of the per-deployment cost bars.
const barWidth = 30

func printUsage(out io.Writer, u *models.UsageSummary) {
	fmt.Fprintf(out, "Sessions:  %d active, %d completed, %d in trash\n", u.Counts.Active, u.Counts.Completed, u.Counts.Trash)
	fmt.Fprintf(out, "Turns:     %s (%s errors)\n", humanize.Comma(int64(u.TotalTurns)), humanize.Comma(int64(u.TotalErrors)))
	fmt.Fprintf(out, "Tokens:    %s\n", web.Tokens(u.TotalTokens))
	fmt.Fprintf(out, "Cost:      %s / %s\n", web.USD(u.TotalCostUSD), web.JPY(u.TotalCostJPY))

	if len(u.ByDeployment) == 0 {
		return
	}
	names := make([]string, 0, len(u.ByDeployment))
	nameWidth := 0
	var max float64
	for name, cost := range u.ByDeployment {
		names = append(names, name)
		if w := runewidth.StringWidth(name); w > nameWidth {
			nameWidth = w
		}
		if cost > max {
			max = cost
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if u.ByDeployment[names[i]] != u.ByDeployment[names[j]] {
			return u.ByDeployment[names[i]] > u.ByDeployment[names[j]]
		}
		return names[i] < names[j]
	})

	fmt.Fprintln(out, "\nCost by deployment:")
	for _, name := range names {
		cost := u.ByDeployment[name]
		n := 0
		if max > 0 {
			n = int(cost / max * barWidth)
		}
		fmt.Fprintf(out, "  %s  %s %s\n", runewidth.FillRight(name, nameWidth), strings.Repeat("█", n), web.USD(cost))
	}
}
