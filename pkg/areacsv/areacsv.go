// Package areacsv reads and writes the flat area history file.
//
// The layout is a fixed header followed by one row per area record:
//
//	time_index,hash,area,percent,area_type
//	2023-11-14T22:13:20Z,#a52714,1234.5,42.5,occupied_after_24_02_2022
//
// Values that contain a comma, a quote or a line break are quoted following
// RFC 4180; everything else is written bare.
package areacsv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rua-project/rua/internal/utils"
	"github.com/rua-project/rua/pkg/history"
)

const DefaultPath = "data/area_history.csv"

// Header is the first line of every file.
var Header = []string{"time_index", "hash", "area", "percent", "area_type"}

// Write serializes records to w.
func Write(w io.Writer, records []history.AreaRecord) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(Header); err != nil {
		return err
	}
	for _, r := range records {
		if err := writer.Write(formatRecord(r)); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteFile creates or truncates path, creating its directory if needed, and
// writes records to it. An advisory lock next to the file keeps concurrent
// runs from interleaving.
func WriteFile(path string, records []history.AreaRecord) (err error) {
	if err := utils.EnsureParentDir(path); err != nil {
		return fmt.Errorf("could not create output directory: %w", err)
	}

	lock, err := utils.NewFileLock(path)
	if err != nil {
		return err
	}
	if err := lock.Lock(); err != nil {
		return err
	}
	defer func() {
		if uerr := lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}()

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return Write(file, records)
}

func formatRecord(r history.AreaRecord) []string {
	return []string{
		r.TimeIndex.UTC().Format(time.RFC3339),
		r.Hash,
		formatFloat(r.Area),
		formatFloat(r.Percent),
		r.AreaType,
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ErrBadHeader is returned by Read when the first row is not Header.
var ErrBadHeader = errors.New("unexpected CSV header")

// Read parses a file produced by Write.
func Read(r io.Reader) ([]history.AreaRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(Header)

	head, err := reader.Read()
	if err == io.EOF {
		return nil, ErrBadHeader
	}
	if err != nil {
		return nil, err
	}
	for i := range Header {
		if head[i] != Header[i] {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", ErrBadHeader, i+1, head[i], Header[i])
		}
	}

	var records []history.AreaRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rec, err := parseRow(row)
		if err != nil {
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReadFile opens path and parses it with Read.
func ReadFile(path string) ([]history.AreaRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Read(file)
}

func parseRow(row []string) (history.AreaRecord, error) {
	var rec history.AreaRecord

	ts, err := time.Parse(time.RFC3339, row[0])
	if err != nil {
		return rec, fmt.Errorf("bad time_index: %w", err)
	}
	area, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return rec, fmt.Errorf("bad area: %w", err)
	}
	percent, err := strconv.ParseFloat(row[3], 64)
	if err != nil {
		return rec, fmt.Errorf("bad percent: %w", err)
	}

	rec.TimeIndex = ts.UTC()
	rec.Hash = row[1]
	rec.Area = area
	rec.Percent = percent
	rec.AreaType = row[4]
	return rec, nil
}
