package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tokentap/tokentap/pkg/config"
	"github.com/tokentap/tokentap/pkg/tracker"
)

func newStatsCmd() *cobra.Command {
	var (
		configPath string
		byModel    bool
		recent     int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show token usage statistics from the usage database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer tr.Close()

			ctx := context.Background()

			if recent > 0 {
				reqs, err := tr.Recent(ctx, recent)
				if err != nil {
					return err
				}
				if len(reqs) == 0 {
					fmt.Println("No requests recorded.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tTIME\tENDPOINT\tMODEL\tDURATION\tIN\tOUT\tERROR")
				for _, r := range reqs {
					errMark := ""
					if r.IsError {
						errMark = "yes"
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%dms\t%d\t%d\t%s\n",
						r.ID, r.StartTime.Format("2006-01-02T15:04:05"), r.Endpoint, r.Model, r.DurationMs, r.InputTokens, r.OutputTokens, errMark)
				}
				return w.Flush()
			}

			if byModel {
				stats, err := tr.ByModel(ctx)
				if err != nil {
					return err
				}
				if len(stats) == 0 {
					fmt.Println("No usage data found.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "MODEL\tREQUESTS\tTOTAL TOKENS\tAVG TOKENS/REQ")
				for _, m := range stats {
					fmt.Fprintf(w, "%s\t%d\t%d\t%.1f\n", m.Model, m.Requests, m.TotalTokens, m.AvgTokensPerRequest)
				}
				return w.Flush()
			}

			s, err := tr.Summary(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Total requests\t%d\n", s.TotalRequests)
			fmt.Fprintf(w, "Successful\t%d\n", s.SuccessfulRequests)
			fmt.Fprintf(w, "Failed\t%d\n", s.FailedRequests)
			fmt.Fprintf(w, "Input tokens\t%d\n", s.TotalInputTokens)
			fmt.Fprintf(w, "Output tokens\t%d\n", s.TotalOutputTokens)
			fmt.Fprintf(w, "Total tokens\t%d\n", s.TotalTokens)
			fmt.Fprintf(w, "Avg input/req\t%.1f\n", s.AvgInputTokens)
			fmt.Fprintf(w, "Avg output/req\t%.1f\n", s.AvgOutputTokens)
			fmt.Fprintf(w, "Avg duration\t%.1fms\n", s.AvgDurationMs)
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "tokentap.yaml", "path to config file")
	cmd.Flags().BoolVar(&byModel, "models", false, "group statistics by model")
	cmd.Flags().IntVar(&recent, "recent", 0, "show the N most recent requests")
	return cmd
}
