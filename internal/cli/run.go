package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/thomaskoefod/trendframe/internal/seeds"
	"github.com/thomaskoefod/trendframe/internal/tui"
	"github.com/thomaskoefod/trendframe/pkg/models"
)

var (
	slotFlag  string
	jobsLimit int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch every enabled source once and store new items",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.pipeline.RunIngestion(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, inserted %d, failed sources %d\n", res.Scanned, res.Inserted, res.FailedSources)
		return nil
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Build (or rebuild) today's feed for a slot",
	RunE: func(cmd *cobra.Command, args []string) error {
		slot, err := models.ParseSlot(slotFlag)
		if err != nil {
			return err
		}
		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		feedID, err := a.builder.GenerateFeedForSlot(cmd.Context(), slot)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "feed %d generated for %s %s\n", feedID, a.builder.FeedDate(time.Now()), slot)
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Insert or update the source catalogue",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		sum, err := seeds.Sync(cmd.Context(), a.db, cfg.Sources)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sources: %d created, %d updated, %d total\n", sum.Created, sum.Updated, sum.Total)
		return nil
	},
}

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Read today's feed in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		slot, err := models.ParseSlot(slotFlag)
		if err != nil {
			return err
		}
		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		p := tea.NewProgram(tui.New(cmd.Context(), a.builder, a.feedback, slot), tea.WithContext(cmd.Context()))
		_, err = p.Run()
		return err
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent job runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.ledger.Recent(cmd.Context(), jobsLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tSTARTED\tENDED\tERROR")
		for _, j := range list {
			ended, msg := "-", ""
			if j.EndedAt != nil {
				ended = j.EndedAt.In(a.loc).Format(time.DateTime)
			}
			if j.ErrorMessage != nil {
				msg = *j.ErrorMessage
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", j.ID, j.JobType, j.Status, j.StartedAt.In(a.loc).Format(time.DateTime), ended, msg)
		}
		return w.Flush()
	},
}

func init() {
	for _, c := range []*cobra.Command{generateCmd, browseCmd} {
		c.Flags().StringVar(&slotFlag, "slot", "am", "feed slot: am or pm")
	}
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "number of jobs to show")
}
