package history

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/tidwall/gjson"
)

// Category keys, in order of preference. Older payloads use area_type.
var categoryKeys = []string{"type", "area_type"}

// ParseError reports why a snapshot body could not be decoded.
type ParseError struct {
	SnapshotID int64
	// Index is the position of the offending element, -1 for document-level
	// problems.
	Index int
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("snapshot %d: %v", e.SnapshotID, e.Err)
	}
	return fmt.Sprintf("snapshot %d: area #%d: field %q: %v", e.SnapshotID, e.Index, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	errInvalidJSON  = errors.New("invalid JSON")
	errNotArray     = errors.New("expected a JSON array of areas")
	errNotObject    = errors.New("expected a JSON object")
	errMissingField = errors.New("missing required field")
	errWrongType    = errors.New("wrong type")
	errNotFinite    = errors.New("not a finite number")
)

// ParseAreas decodes an areas payload and stamps every record with the
// snapshot instant derived from id. A single bad element fails the whole
// snapshot.
func ParseAreas(body string, id int64) ([]AreaRecord, error) {
	if !gjson.Valid(body) {
		return nil, &ParseError{SnapshotID: id, Index: -1, Err: errInvalidJSON}
	}
	doc := gjson.Parse(body)
	if !doc.IsArray() {
		return nil, &ParseError{SnapshotID: id, Index: -1, Err: errNotArray}
	}

	elems := doc.Array()
	records := make([]AreaRecord, 0, len(elems))
	for i, elem := range elems {
		rec, err := parseArea(elem)
		if err != nil {
			err.SnapshotID = id
			err.Index = i
			return nil, err
		}
		records = append(records, rec)
	}

	ts := SnapshotTime(id)
	for i := range records {
		records[i].TimeIndex = ts
	}
	return records, nil
}

func parseArea(elem gjson.Result) (AreaRecord, *ParseError) {
	var rec AreaRecord
	if !elem.IsObject() {
		return rec, &ParseError{Err: errNotObject}
	}

	hash, perr := requireField(elem, "hash", gjson.String)
	if perr != nil {
		return rec, perr
	}
	rec.Hash = hash.Str

	area, perr := requireField(elem, "area", gjson.Number)
	if perr != nil {
		return rec, perr
	}
	rec.Area = area.Num

	percent, perr := requireField(elem, "percent", gjson.String)
	if perr != nil {
		return rec, perr
	}
	p, err := strconv.ParseFloat(percent.Str, 64)
	if err != nil {
		return rec, &ParseError{Field: "percent", Err: err}
	}
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return rec, &ParseError{Field: "percent", Err: fmt.Errorf("%w: %q", errNotFinite, percent.Str)}
	}
	rec.Percent = p

	category, perr := categoryField(elem)
	if perr != nil {
		return rec, perr
	}
	rec.AreaType = category

	return rec, nil
}

func requireField(elem gjson.Result, name string, want gjson.Type) (gjson.Result, *ParseError) {
	v := elem.Get(name)
	if !v.Exists() {
		return v, &ParseError{Field: name, Err: errMissingField}
	}
	if v.Type != want {
		return v, &ParseError{Field: name, Err: fmt.Errorf("%w: want %s, got %s", errWrongType, want, v.Type)}
	}
	return v, nil
}

// categoryField reads the first category key present.
func categoryField(elem gjson.Result) (string, *ParseError) {
	for _, key := range categoryKeys {
		v := elem.Get(key)
		if !v.Exists() {
			continue
		}
		if v.Type != gjson.String {
			return "", &ParseError{Field: key, Err: fmt.Errorf("%w: want %s, got %s", errWrongType, gjson.String, v.Type)}
		}
		return v.Str, nil
	}
	return "", &ParseError{Field: categoryKeys[0], Err: errMissingField}
}

// indexFields lists the keys every history index entry must carry.
var indexFields = []struct {
	name string
	ok   func(gjson.Result) bool
}{
	{"id", func(v gjson.Result) bool { return v.Type == gjson.Number && v.Num == float64(v.Int()) }},
	{"updatedAt", func(v gjson.Result) bool { return v.Type == gjson.String }},
	{"datetime", func(v gjson.Result) bool { return v.Type == gjson.String }},
	{"status", func(v gjson.Result) bool { return v.Type == gjson.True || v.Type == gjson.False }},
	{"createdAt", func(v gjson.Result) bool { return v.Type == gjson.String }},
}

// validateIndex checks the shape of the history index before it is decoded,
// so a missing id never turns into snapshot 0.
func validateIndex(body string) error {
	if !gjson.Valid(body) {
		return errInvalidJSON
	}
	doc := gjson.Parse(body)
	if !doc.IsArray() {
		return errors.New("expected a JSON array of history entries")
	}
	for i, elem := range doc.Array() {
		if !elem.IsObject() {
			return fmt.Errorf("entry #%d: %w", i, errNotObject)
		}
		for _, f := range indexFields {
			v := elem.Get(f.name)
			if !v.Exists() {
				return fmt.Errorf("entry #%d: field %q: %w", i, f.name, errMissingField)
			}
			if !f.ok(v) {
				return fmt.Errorf("entry #%d: field %q: %w: got %s", i, f.name, errWrongType, v.Type)
			}
		}
	}
	return nil
}
