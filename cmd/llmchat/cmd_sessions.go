package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/llmselect/llmselect-chat/internal/catalog"
	"github.com/llmselect/llmselect-chat/internal/web"
	"github.com/llmselect/llmselect-chat/pkg/models"
	"github.com/llmselect/llmselect-chat/pkg/server"
)

var (
	listView  string
	showJSON  bool
	purgeAll  bool
	renameGen bool
)

func init() {
	rootCmd.AddCommand(sessionsCmd, trashCmd)
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsRenameCmd,
		sessionsEndCmd, sessionsResumeCmd, sessionsDeleteCmd)
	trashCmd.AddCommand(trashListCmd, trashPurgeCmd, trashSweepCmd)

	sessionsListCmd.Flags().StringVar(&listView, "view", "active", "active, completed or trash")
	sessionsShowCmd.Flags().BoolVar(&showJSON, "json", false, "print the stored record as JSON (API key masked)")
	sessionsRenameCmd.Flags().BoolVar(&renameGen, "generate", false, "ask the session's model for a name")
	trashPurgeCmd.Flags().BoolVar(&purgeAll, "all", false, "purge every session in the trash")
}

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session"},
	Short:   "Inspect and manage chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the sessions of one view",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		view, ok := models.ParseSessionView(listView)
		if !ok {
			return fmt.Errorf("unknown view %q", listView)
		}
		core, err := openCore(cmd.Context())
		if err != nil {
			return err
		}
		list, err := core.Sessions.List(cmd.Context(), view)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		return printSessions(cmd.OutOrStdout(), list, view)
	},
}

func printSessions(out io.Writer, list []*models.Session, view models.SessionView) error {
	if len(list) == 0 {
		fmt.Fprintf(out, "No %s sessions.\n", view)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	when := "UPDATED"
	if view == models.ViewTrash {
		when = "DELETED"
	}
	fmt.Fprintf(w, "ID\tNAME\tMODEL\tREGION\tTURNS\tTOKENS\tCOST\t%s\n", when)
	for _, s := range list {
		tokens, usd, _ := s.Totals()
		ts := s.UpdatedAt
		if view == models.ViewTrash && s.DeletedAt != nil {
			ts = *s.DeletedAt
		}
		fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\t%d\t%s\t%s\t%s\n",
			s.ID,
			web.TruncateName(s.Name),
			s.Model.ConstructorIcon, s.Model.DeploymentName,
			catalog.FormatRegion(s.Model.Region),
			len(s.Messages),
			web.Tokens(tokens),
			web.USD(usd),
			humanize.Time(ts.Time),
		)
	}
	return w.Flush()
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session with its conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore(cmd.Context())
		if err != nil {
			return err
		}
		s, err := core.Sessions.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if showJSON {
			cp := s.Clone()
			cp.Model = cp.Model.Masked()
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(cp)
		}
		printSession(out, s, core.Config.Pricing.USDToJPY)
		return nil
	},
}

func printSession(out io.Writer, s *models.Session, usdToJPY float64) {
	state := string(s.Status)
	switch {
	case s.PurgedFromTrash:
		state = "purged"
	case s.Deleted:
		state = "trash"
	}

	fmt.Fprintf(out, "%s  [%s]\n", s.Name, state)
	fmt.Fprintf(out, "ID:       %s\n", s.ID)
	fmt.Fprintf(out, "Model:    %s %s (%s)\n", s.Model.ConstructorIcon, s.Model.DeploymentName, catalog.FormatRegion(s.Model.Region))
	fmt.Fprintf(out, "Created:  %s\n", s.CreatedAt.Display())
	if s.EndedAt != nil {
		fmt.Fprintf(out, "Ended:    %s\n", s.EndedAt.Display())
	}

	sum := web.Summarize(s, usdToJPY)
	fmt.Fprintf(out, "Turns:    %d   Tokens: %s   Cost: %s / %s   Avg: %s\n",
		sum.Turns, web.Tokens(sum.Tokens), web.USD(sum.CostUSD), web.JPY(sum.CostJPY), web.Seconds(sum.AvgResponseTime))
	if len(s.Errors) > 0 {
		fmt.Fprintf(out, "Errors:   %d\n", len(s.Errors))
	}

	for _, t := range web.BuildTurns(s) {
		fmt.Fprintln(out, strings.Repeat("─", 40))
		fmt.Fprintf(out, "👤 %s\n", t.User.Content)
		if t.Assistant != nil {
			if t.Log != nil {
				fmt.Fprintf(out, "🤖 %s\n", web.TurnMetrics(*t.Log))
			}
			fmt.Fprintln(out, t.Assistant.Content)
		}
	}
}

var sessionsRenameCmd = &cobra.Command{
	Use:   "rename <session-id> [name]",
	Short: "Rename a session, or generate a name with --generate",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore(cmd.Context())
		if err != nil {
			return err
		}

		var s *models.Session
		switch {
		case renameGen:
			s, err = core.Sessions.GenerateName(cmd.Context(), args[0])
		case len(args) == 2:
			s, err = core.Sessions.Rename(cmd.Context(), args[0], args[1])
		default:
			return fmt.Errorf("a new name or --generate is required")
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", s.ID, s.Name)
		return nil
	},
}

var sessionsEndCmd = &cobra.Command{
	Use:   "end <session-id>",
	Short: "End an active session and record its statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore(cmd.Context())
		if err != nil {
			return err
		}
		s, err := core.Sessions.End(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		st := s.Stats
		fmt.Fprintf(cmd.OutOrStdout(), "Ended %s: %d turns, %s tokens, %s (%s)\n",
			s.ID, st.TotalTurns, web.Tokens(st.TotalTokens), web.USD(st.TotalCostUSD), web.JPY(st.TotalCostJPY))
		return nil
	},
}

var sessionsResumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Reactivate a completed session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore(cmd.Context())
		if err != nil {
			return err
		}
		s, err := core.Sessions.Resume(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Resumed %s\n", s.ID)
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>...",
	Short: "Move sessions to the trash",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore(cmd.Context())
		if err != nil {
			return err
		}
		for _, id := range args {
			if _, err := core.Sessions.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Moved %s to the trash\n", id)
		}
		return nil
	},
}

var trashCmd = &cobra.Command{
	Use:   "trash",
	Short: "Inspect and purge deleted sessions",
}

var trashListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions in the trash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore(cmd.Context())
		if err != nil {
			return err
		}
		list, err := core.Sessions.List(cmd.Context(), models.ViewTrash)
		if err != nil {
			return err
		}
		return printSessions(cmd.OutOrStdout(), list, models.ViewTrash)
	},
}

var trashPurgeCmd = &cobra.Command{
	Use:   "purge [session-id...]",
	Short: "Permanently hide trashed sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !purgeAll && len(args) == 0 {
			return fmt.Errorf("session ids or --all are required")
		}
		core, err := openCore(cmd.Context())
		if err != nil {
			return err
		}

		var n int
		if purgeAll {
			n, err = core.Sessions.EmptyTrash(cmd.Context())
		} else {
			n, err = core.Sessions.Purge(cmd.Context(), args)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %d session(s)\n", n)
		return nil
	},
}

var trashSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one trash retention cycle (TRASH_RETENTION_DAYS)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		core, err := openCore(cmd.Context())
		if err != nil {
			return err
		}
		j := server.NewJanitor(cfg, core)
		if j == nil {
			return fmt.Errorf("trash retention is disabled; set TRASH_RETENTION_DAYS")
		}
		stats := j.RunCycle(cmd.Context())
		if stats.Err != nil {
			return stats.Err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %d of %d expired session(s)\n", stats.Purged, stats.Expired)
		if stats.ArchivePath != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Archived to %s\n", stats.ArchivePath)
		}
		return nil
	},
}
