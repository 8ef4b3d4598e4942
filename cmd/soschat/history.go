package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"soschat/internal/domain"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent tool dispatches from the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Audit.Enabled {
				return fmt.Errorf("audit log is disabled (set audit.enabled to true)")
			}
			store, err := openAudit(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.RecentDispatches(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), recs, time.Now())
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of dispatches to show")
	return cmd
}

func printHistory(out io.Writer, recs []domain.DispatchRecord, now time.Time) {
	if len(recs) == 0 {
		fmt.Fprintln(out, "No dispatches recorded yet.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tTOOL\tSTATUS\tDURATION\tDETAIL")
	for _, rec := range recs {
		detail := rec.Error
		if rec.Source != "" {
			detail = "source=" + rec.Source
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%dms\t%s\n",
			humanize.RelTime(rec.CreatedAt, now, "ago", "from now"),
			rec.Tool, rec.Status, rec.DurationMs, detail)
	}
	tw.Flush()
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration summary and per-tool dispatch counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "soschat v%s\n", version)
			fmt.Fprintf(out, "Config:    %s\n", resolveConfigPath())
			fmt.Fprintf(out, "Listen:    %s:%d\n", cfg.Server.Host, cfg.Server.Port)
			fmt.Fprintf(out, "Telegram:  %v\n", cfg.Telegram.Enabled)
			fmt.Fprintf(out, "News key:  %v\n", cfg.Tools.News.APIKey != "")

			if !cfg.Audit.Enabled {
				fmt.Fprintln(out, "Audit:     disabled")
				return nil
			}
			store, err := openAudit(cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Audit:     %s (%d day retention)\n\n", cfg.Audit.DBPath, cfg.Audit.RetentionDays)
			printStats(out, stats)
			return nil
		},
	}
}

func printStats(out io.Writer, stats []domain.DispatchStats) {
	if len(stats) == 0 {
		fmt.Fprintln(out, "No dispatches recorded yet.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tSUCCESS\tERROR")
	var ok, failed int64
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Tool, humanize.Comma(s.Successes), humanize.Comma(s.Failures))
		ok += s.Successes
		failed += s.Failures
	}
	fmt.Fprintf(tw, "total\t%s\t%s\n", humanize.Comma(ok), humanize.Comma(failed))
	tw.Flush()
}
