package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/eklundh/strandr/internal/runhistory"
	"github.com/eklundh/strandr/pkg/postgres"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "number of runs to show")
}

var historyCmd = &cobra.Command{
	Use:   "history <corpus>",
	Short: "Show recent ingestion runs for a corpus",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		db, err := postgres.New(a.cfg.Postgres)
		if err != nil {
			return err
		}
		defer db.Close()

		records, err := runhistory.NewStore(db).Recent(ctx, args[0], historyLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Printf("no runs recorded for corpus %s\n", args[0])
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tELAPSED\tFILES\tDOCS\tTOKENS\tFAILED FILES\tFAILED BATCHES")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
				rec.StartedAt.Format(time.RFC3339),
				rec.FinishedAt.Sub(rec.StartedAt).Round(time.Second),
				rec.Files, rec.Documents, rec.Tokens, rec.FilesFailed, rec.BatchesFailed)
		}
		return w.Flush()
	},
}
