package polling

import (
	"context"
	"fmt"
	"strings"

	"github.com/rua-project/rua/pkg/history"
)

// Logger is the subset of *logrus.Logger that Run writes to.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type quietLogger struct{}

func (quietLogger) Infof(string, ...interface{})  {}
func (quietLogger) Warnf(string, ...interface{})  {}
func (quietLogger) Debugf(string, ...interface{}) {}

// Source is the history API as seen by Run. *history.Client implements it.
type Source interface {
	ListEntries(ctx context.Context) ([]history.HistoryEntry, error)
	FetchAreas(ctx context.Context, id int64) (string, error)
}

// DecodePolicy decides what a malformed snapshot payload does to the run.
type DecodePolicy string

const (
	// DecodeAbort fails the whole run. Nothing gathered so far is kept.
	DecodeAbort DecodePolicy = "abort"
	// DecodeSkip drops the snapshot and carries on, like an exhausted fetch.
	DecodeSkip DecodePolicy = "skip"
)

// ParseDecodePolicy accepts "abort" or "skip" (case-insensitive). Empty means
// abort.
func ParseDecodePolicy(s string) (DecodePolicy, error) {
	switch DecodePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case DecodeAbort, "":
		return DecodeAbort, nil
	case DecodeSkip:
		return DecodeSkip, nil
	}
	return "", fmt.Errorf("unknown decode error policy %q (want abort or skip)", s)
}

// Config holds everything Run needs.
type Config struct {
	Source       Source
	DecodePolicy DecodePolicy // defaults to DecodeAbort
	Log          Logger       // optional; nil = no logging

	// OnSnapshotDone is called after each snapshot has been handled, whether
	// it contributed records or was skipped. Nil = no callback.
	OnSnapshotDone func(p Progress)
}

// Progress describes one handled snapshot.
type Progress struct {
	Done    int
	Total   int
	Entry   history.HistoryEntry
	Records []history.AreaRecord
	// Skipped is set when the snapshot contributed nothing to the output.
	Skipped *SkippedSnapshot
}

// SkipReason tells why a snapshot contributed no records.
type SkipReason string

const (
	SkipFetch  SkipReason = "fetch"
	SkipDecode SkipReason = "decode"
)

// SkippedSnapshot records a snapshot left out of the output.
type SkippedSnapshot struct {
	Entry  history.HistoryEntry
	Reason SkipReason
	Err    error
}

// Result holds the outcome of one run.
type Result struct {
	Entries []history.HistoryEntry
	Records *Collection
	Skipped []SkippedSnapshot
}

// Run lists the history index and fetches, parses and aggregates every
// snapshot in listing order, one at a time. Index failures and (under
// DecodeAbort) decode failures end the run with an error; exhausted fetches
// are recorded in Result.Skipped.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	log := cfg.Log
	if log == nil {
		log = quietLogger{}
	}
	policy := cfg.DecodePolicy
	if policy == "" {
		policy = DecodeAbort
	}

	entries, err := cfg.Source.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	log.Infof("Found %d snapshots in the history index", len(entries))

	result := &Result{
		Entries: entries,
		Records: NewCollection(0),
	}

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		records, skip, err := processOneSnapshot(ctx, cfg.Source, entry, policy, log)
		if err != nil {
			return nil, err
		}
		if skip != nil {
			result.Skipped = append(result.Skipped, *skip)
		} else {
			result.Records.AppendAll(records)
		}

		if cfg.OnSnapshotDone != nil {
			cfg.OnSnapshotDone(Progress{Done: i + 1, Total: len(entries), Entry: entry, Records: records, Skipped: skip})
		}
	}

	return result, nil
}

// processOneSnapshot fetches and parses a single snapshot. It returns a
// non-nil skip when the snapshot must be left out, and an error only when the
// run has to stop.
func processOneSnapshot(ctx context.Context, src Source, entry history.HistoryEntry, policy DecodePolicy, log Logger) ([]history.AreaRecord, *SkippedSnapshot, error) {
	body, err := src.FetchAreas(ctx, entry.ID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		log.Warnf("Failed to fetch snapshot %d, skipping it: %v", entry.ID, err)
		return nil, &SkippedSnapshot{Entry: entry, Reason: SkipFetch, Err: err}, nil
	}

	records, err := history.ParseAreas(body, entry.ID)
	if err != nil {
		if policy == DecodeSkip {
			log.Warnf("Failed to decode snapshot %d, skipping it: %v", entry.ID, err)
			return nil, &SkippedSnapshot{Entry: entry, Reason: SkipDecode, Err: err}, nil
		}
		return nil, nil, fmt.Errorf("failed to decode snapshot %d: %w", entry.ID, err)
	}

	log.Debugf("Snapshot %d: %d areas", entry.ID, len(records))
	return records, nil, nil
}
