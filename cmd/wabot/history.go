package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Xractz/whatsapp-assistant/internal/audit"
	"github.com/Xractz/whatsapp-assistant/internal/domain"
)

func historyCmd() *cobra.Command {
	var (
		limit    int
		asJSON   bool
		showStat bool
		pruneAge time.Duration
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently dispatched commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Audit.Enabled {
				return fmt.Errorf("command log is disabled (audit.enabled=false)")
			}

			ctx := context.Background()
			store, err := audit.NewSQLiteStore(ctx, cfg.Audit.DBPath, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if pruneAge > 0 {
				n, err := store.Prune(ctx, pruneAge)
				if err != nil {
					return err
				}
				fmt.Printf("Pruned %d record(s) older than %s\n", n, pruneAge)
				return nil
			}

			if showStat {
				stats, err := store.Stats(ctx)
				if err != nil {
					return err
				}
				printStats(stats)
				return nil
			}

			recs, err := store.Recent(ctx, limit)
			if err != nil {
				return err
			}
			if asJSON {
				data, _ := json.MarshalIndent(recs, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			printRecords(recs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	cmd.Flags().BoolVar(&showStat, "stats", false, "print record counts per status")
	cmd.Flags().DurationVar(&pruneAge, "prune", 0, "delete records older than this age (e.g. 720h)")
	return cmd
}

func printRecords(recs []domain.CommandRecord) {
	if len(recs) == 0 {
		fmt.Println("No commands recorded yet.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tCHAT\tCOMMAND\tSTATUS\tLATENCY\tERROR")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dms\t%s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			domain.UserPart(r.ChatID),
			r.Command,
			r.Status,
			r.LatencyMs,
			r.Error,
		)
	}
	w.Flush()
}

func printStats(stats map[domain.CommandStatus]int) {
	statuses := make([]string, 0, len(stats))
	total := 0
	for s, n := range stats {
		statuses = append(statuses, string(s))
		total += n
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Printf("  %-8s %d\n", s, stats[domain.CommandStatus(s)])
	}
	fmt.Printf("  %-8s %d\n", "total", total)
}
