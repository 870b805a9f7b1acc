package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rua-project/rua/internal/utils"
	"github.com/rua-project/rua/pkg/areacsv"
	"github.com/rua-project/rua/pkg/storage"
)

// dbCmd represents the db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Interact with the SQLite mirror written by 'rua fetch --db'",
}

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints statistics about the snapshots and areas in the database.",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openExistingDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		stats, err := db.GetStats(ctx)
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			fmt.Println("No data in the database to generate stats.")
			return nil
		}

		snapshots, err := db.SnapshotCount(ctx)
		if err != nil {
			return err
		}

		printStats(os.Stdout, stats, snapshots)

		if run, at, err := db.LastRun(ctx); err == nil && run != "" {
			fmt.Printf("\nLast fetch run: %s (%s)\n", run, at)
		}
		return nil
	},
}

// exportCmd rebuilds the CSV from the database.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the stored area history to a CSV file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = cfg.Output.Path
		}
		areaType, _ := cmd.Flags().GetString("type")
		sinceStr, _ := cmd.Flags().GetString("since")

		opts := storage.ListOptions{AreaType: areaType}
		if sinceStr != "" {
			since, err := time.Parse(time.RFC3339, sinceStr)
			if err != nil {
				return fmt.Errorf("invalid --since (want RFC3339): %w", err)
			}
			opts.Since = since
		}

		db, err := openExistingDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		records, err := db.ListRecords(context.Background(), opts)
		if err != nil {
			return err
		}
		if err := areacsv.WriteFile(output, records); err != nil {
			return fmt.Errorf("failed to write %s: %w", output, err)
		}
		utils.Log.Infof("Wrote %d areas to %s", len(records), output)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(statsCmd)
	dbCmd.AddCommand(exportCmd)
	dbCmd.PersistentFlags().String("dbpath", "", "Path to SQLite DB file (default: storage.path from config)")

	exportCmd.Flags().StringP("output", "o", "", "CSV file to write (default: output.path from config)")
	exportCmd.Flags().StringP("type", "t", "", "Only export rows of this area type")
	exportCmd.Flags().String("since", "", "Only export snapshots at or after this RFC3339 timestamp")
}

func openExistingDB(cmd *cobra.Command) (*storage.DB, error) {
	dbPath, _ := cmd.Flags().GetString("dbpath")
	if dbPath == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		dbPath = cfg.Storage.Path
	}

	if _, err := os.Stat(dbPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("database not found: %s (run 'rua fetch --db' first)", dbPath)
		}
		return nil, err
	}
	return storage.Open(dbPath)
}

func printStats(out io.Writer, stats []storage.CategoryStats, snapshots int) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "AREA TYPE\tSNAPSHOTS\tAREAS\tFIRST\tLAST\t")

	var totalAreas int
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t\n", s.AreaType, s.SnapshotCount, s.RecordCount, s.First.Format("2006-01-02"), s.Last.Format("2006-01-02"))
		totalAreas += s.RecordCount
	}

	fmt.Fprintln(w, " \t \t \t \t \t")
	fmt.Fprintf(w, "TOTAL\t%d\t%d\t \t \t\n", snapshots, totalAreas)

	w.Flush()
}
