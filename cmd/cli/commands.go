package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dvloznov/spend-assistant/internal/app"
	"github.com/dvloznov/spend-assistant/internal/assistant"
	bqexport "github.com/dvloznov/spend-assistant/internal/infra/bigquery"
	"github.com/dvloznov/spend-assistant/internal/intent"
	"github.com/dvloznov/spend-assistant/internal/snapshot"
	"github.com/spf13/cobra"
)

// errNoIntent is returned by apply when the text carries no transaction.
var errNoIntent = errors.New("no transaction detected")

func (c *cli) classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <text>",
		Short: "Show the intent extracted from a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			out := cmd.OutOrStdout()

			match, ok := intent.NewDefault().Classify(text)
			if !ok {
				fmt.Fprintln(out, "no transaction detected")
				return nil
			}
			fmt.Fprintf(out, "kind:   %s\n", match.Intent.Kind)
			fmt.Fprintf(out, "amount: %s\n", match.Intent.Amount.StringFixed(2))
			fmt.Fprintf(out, "rule:   %s (%s)\n", match.Rule, match.Stage)
			return nil
		},
	}
}

func (c *cli) openLedger(ctx context.Context) (*app.App, error) {
	return app.NewLedgerOnly(ctx, c.cfg, c.log)
}

func (c *cli) applyCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "apply --user <id> <text>",
		Short: "Classify a message and record it in a user's ledger",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			match, ok := intent.NewDefault().Classify(text)
			if !ok {
				return fmt.Errorf("%w in %q", errNoIntent, text)
			}

			ctx := cmd.Context()
			deps, err := c.openLedger(ctx)
			if err != nil {
				return err
			}
			defer deps.Close()

			res, err := deps.Ledger.ApplyTransaction(ctx, user, match.Intent)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), assistant.RecordedText(res.Entry, res.Balance))
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user ID (e.g. email)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (c *cli) showCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "show --user <id>",
		Short: "Print a user's balance and entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			deps, err := c.openLedger(ctx)
			if err != nil {
				return err
			}
			defer deps.Close()

			doc, err := deps.Ledger.Ledger(ctx, user)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			income, expense := doc.Totals()
			fmt.Fprintf(out, "user:     %s\n", user)
			fmt.Fprintf(out, "balance:  %s\n", assistant.Rupees(doc.Balance))
			fmt.Fprintf(out, "income:   %s\n", assistant.Rupees(income))
			fmt.Fprintf(out, "expense:  %s\n", assistant.Rupees(expense))
			fmt.Fprintf(out, "revision: %d\n\n", doc.Revision)

			if len(doc.Entries) == 0 {
				fmt.Fprintln(out, "no entries")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RECORDED\tKIND\tAMOUNT\tNOTE")
			for _, e := range doc.Entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.RecordedAt.Format(time.RFC3339), e.Kind, e.Amount.StringFixed(2), e.Note)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user ID (e.g. email)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (c *cli) verifyCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "verify --user <id>",
		Short: "Check that a user's balance equals the sum of their entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			deps, err := c.openLedger(ctx)
			if err != nil {
				return err
			}
			defer deps.Close()

			doc, err := deps.Ledger.Verify(ctx, user)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: balance %s matches %d entries\n", assistant.Rupees(doc.Balance), len(doc.Entries))
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user ID (e.g. email)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (c *cli) snapshotCmd() *cobra.Command {
	var user, bucket string
	cmd := &cobra.Command{
		Use:   "snapshot --user <id>",
		Short: "Write a copy of a user's ledger to Cloud Storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if bucket == "" {
				bucket = c.cfg.Snapshot.Bucket
			}
			if bucket == "" {
				return errors.New("--bucket or SPEND_SNAPSHOT_BUCKET is required")
			}

			ctx := cmd.Context()
			deps, err := c.openLedger(ctx)
			if err != nil {
				return err
			}
			defer deps.Close()

			doc, err := deps.Ledger.Verify(ctx, user)
			if err != nil {
				return err
			}

			gcs, err := snapshot.NewGCS(ctx)
			if err != nil {
				return err
			}
			defer gcs.Close()

			uri, err := snapshot.NewUploader(gcs, bucket).Upload(ctx, doc)
			if err != nil {
				return err
			}
			c.log.Info().Str("user_id", user).Str("uri", uri).Msg("Snapshot written")
			fmt.Fprintln(cmd.OutOrStdout(), uri)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user ID (e.g. email)")
	cmd.Flags().StringVar(&bucket, "bucket", "", "GCS bucket (default: SPEND_SNAPSHOT_BUCKET)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (c *cli) reportCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "report --user <id>",
		Short: "Summarise a user's exported entries from BigQuery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.BigQuery.Project == "" {
				return errors.New("SPEND_BIGQUERY_PROJECT is required")
			}

			ctx := cmd.Context()
			x, err := bqexport.NewEntryExporter(ctx, c.cfg.BigQuery.Project, c.cfg.BigQuery.Dataset)
			if err != nil {
				return err
			}
			defer x.Close()

			summary, err := x.QueryUserSummary(ctx, user)
			if err != nil {
				return err
			}
			months, err := x.QueryMonthlyTotals(ctx, user)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "user:    %s\n", user)
			fmt.Fprintf(out, "entries: %d\n", summary.EntryCount)
			fmt.Fprintf(out, "income:  %s\n", assistant.Rupees(bqexport.RatToDecimal(summary.Income)))
			fmt.Fprintf(out, "expense: %s\n", assistant.Rupees(bqexport.RatToDecimal(summary.Expense)))
			fmt.Fprintf(out, "net:     %s\n\n", assistant.Rupees(bqexport.RatToDecimal(summary.Net())))

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MONTH\tINCOME\tEXPENSE\tENTRIES")
			for _, m := range months {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", m.Month,
					bqexport.RatToDecimal(m.Income).StringFixed(2),
					bqexport.RatToDecimal(m.Expense).StringFixed(2),
					m.Entries)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user ID (e.g. email)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
