package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rua-project/rua/internal/config"
	"github.com/rua-project/rua/internal/utils"
	"github.com/rua-project/rua/pkg/areacsv"
	"github.com/rua-project/rua/pkg/history"
	"github.com/rua-project/rua/pkg/polling"
	"github.com/rua-project/rua/pkg/storage"
	"github.com/rua-project/rua/pkg/whttp"
)

// fetchCmd implements: rua fetch
//
//	--output string            CSV file to write (default data/area_history.csv)
//	--max-attempts int         Attempts per snapshot before it is skipped
//	--delay duration           Pause between failed attempts
//	--backoff string           fixed or exponential
//	--on-decode-error string   abort or skip
//	--base-url string          History API base URL
//	--db                       Also mirror snapshots into SQLite
//	--dbpath string            SQLite file for --db
var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the whole area history and write it as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			return fmt.Errorf("unknown command: '%s'. See 'rua fetch --help'", args[0])
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runFetch(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringP("output", "o", areacsv.DefaultPath, "CSV file to write")
	fetchCmd.Flags().Int("max-attempts", whttp.DefaultMaxAttempts, "Attempts per snapshot before it is skipped")
	fetchCmd.Flags().Duration("delay", whttp.DefaultDelay, "Pause between failed attempts")
	fetchCmd.Flags().String("backoff", "fixed", "Retry backoff: fixed or exponential")
	fetchCmd.Flags().String("on-decode-error", "abort", "What a malformed snapshot does: abort the run or skip the snapshot")
	fetchCmd.Flags().String("base-url", history.DefaultBaseURL, "History API base URL")
	fetchCmd.Flags().Bool("db", false, "Also mirror every snapshot into the SQLite database")
	fetchCmd.Flags().String("dbpath", storage.DefaultPath, "Path to SQLite DB file used with --db")

	_ = viper.BindPFlag("output.path", fetchCmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("retry.max_attempts", fetchCmd.Flags().Lookup("max-attempts"))
	_ = viper.BindPFlag("retry.delay", fetchCmd.Flags().Lookup("delay"))
	_ = viper.BindPFlag("retry.backoff", fetchCmd.Flags().Lookup("backoff"))
	_ = viper.BindPFlag("parse.on_decode_error", fetchCmd.Flags().Lookup("on-decode-error"))
	_ = viper.BindPFlag("api.base_url", fetchCmd.Flags().Lookup("base-url"))
	_ = viper.BindPFlag("storage.enabled", fetchCmd.Flags().Lookup("db"))
	_ = viper.BindPFlag("storage.path", fetchCmd.Flags().Lookup("dbpath"))
}

func runFetch(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	utils.Log.Info("RUA - dynamic transition of territory, area history export")
	utils.Log.Debugf("Fetch run %s", runID)

	httpClient, err := newHTTPClient(cfg)
	if err != nil {
		return err
	}

	logAttempt := func(id int64, attempt, maxAttempts int, err error) {
		utils.Log.Warnf("Snapshot %d: attempt %d/%d failed: %v", id, attempt, maxAttempts, err)
	}
	src := history.NewClient(cfg.API.BaseURL, httpClient, cfg.RetryPolicy(), logAttempt)

	var db *storage.DB
	if cfg.Storage.Enabled {
		lock, err := utils.NewFileLock(cfg.Storage.Path)
		if err != nil {
			return err
		}
		if err := lock.Lock(); err != nil {
			return err
		}
		defer lock.Unlock()

		db, err = storage.Open(cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	utils.Log.Info("Fetching timestamps...")
	res, err := polling.Run(ctx, polling.Config{
		Source:       src,
		DecodePolicy: cfg.DecodePolicy(),
		Log:          utils.Log,
		OnSnapshotDone: func(p polling.Progress) {
			if p.Skipped != nil {
				utils.Log.Infof("[%d/%d] snapshot %d: skipped (%s)", p.Done, p.Total, p.Entry.ID, p.Skipped.Reason)
				return
			}
			utils.Log.Infof("[%d/%d] snapshot %d (%s): %d areas", p.Done, p.Total, p.Entry.ID, p.Entry.Timestamp().Format("2006-01-02 15:04"), len(p.Records))
			if db != nil {
				if err := db.UpsertSnapshot(ctx, runID, p.Entry, p.Records); err != nil {
					utils.Log.Warnf("Could not store snapshot %d in the database: %v", p.Entry.ID, err)
				}
			}
		},
	})
	if err != nil {
		return err
	}

	if err := areacsv.WriteFile(cfg.Output.Path, res.Records.Records()); err != nil {
		return fmt.Errorf("failed to write %s: %w", cfg.Output.Path, err)
	}

	utils.Log.Infof("Wrote %d areas from %d snapshots to %s", res.Records.Len(), len(res.Entries)-len(res.Skipped), cfg.Output.Path)
	if len(res.Skipped) > 0 {
		utils.Log.Warnf("%d snapshots were skipped:", len(res.Skipped))
		for _, s := range res.Skipped {
			utils.Log.Warnf("  %d (%s): %v", s.Entry.ID, s.Reason, s.Err)
		}
	}
	return nil
}
