package polling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rua-project/rua/pkg/history"
	"github.com/rua-project/rua/pkg/whttp"
)

type fakeSource struct {
	entries  []history.HistoryEntry
	listErr  error
	bodies   map[int64]string
	fetchErr map[int64]error
	fetched  []int64
}

func (f *fakeSource) ListEntries(ctx context.Context) ([]history.HistoryEntry, error) {
	return f.entries, f.listErr
}

func (f *fakeSource) FetchAreas(ctx context.Context, id int64) (string, error) {
	f.fetched = append(f.fetched, id)
	if err := f.fetchErr[id]; err != nil {
		return "", err
	}
	return f.bodies[id], nil
}

func areasBody(hashes ...string) string {
	parts := make([]string, 0, len(hashes))
	for i, h := range hashes {
		parts = append(parts, fmt.Sprintf(`{"hash":%q,"area":%d,"percent":"%d.5","type":"t%d"}`, h, i+1, i, i))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func hashes(records []history.AreaRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Hash)
	}
	return out
}

func TestRun_ProcessesEntriesInOrder(t *testing.T) {
	src := &fakeSource{
		entries: []history.HistoryEntry{{ID: 300}, {ID: 100}, {ID: 200}},
		bodies: map[int64]string{
			300: areasBody("c1", "c2"),
			100: areasBody("a1"),
			200: areasBody("b1", "b2", "b3"),
		},
	}

	var progress []int
	res, err := Run(context.Background(), Config{
		Source: src,
		OnSnapshotDone: func(p Progress) {
			assert.Equal(t, 3, p.Total)
			assert.Nil(t, p.Skipped)
			progress = append(progress, p.Done)
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{300, 100, 200}, src.fetched)
	assert.Equal(t, []int{1, 2, 3}, progress)
	assert.Equal(t, []string{"c1", "c2", "a1", "b1", "b2", "b3"}, hashes(res.Records.Records()))
	assert.Empty(t, res.Skipped)

	for _, r := range res.Records.Records() {
		switch r.Hash[0] {
		case 'a':
			assert.Equal(t, history.SnapshotTime(100), r.TimeIndex)
		case 'b':
			assert.Equal(t, history.SnapshotTime(200), r.TimeIndex)
		case 'c':
			assert.Equal(t, history.SnapshotTime(300), r.TimeIndex)
		}
	}
}

func TestRun_ZeroEntries(t *testing.T) {
	src := &fakeSource{}
	res, err := Run(context.Background(), Config{Source: src})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Records.Len())
	assert.Empty(t, src.fetched)
}

func TestRun_IndexFailureIsFatal(t *testing.T) {
	src := &fakeSource{listErr: history.ErrIndexUnavailable}
	res, err := Run(context.Background(), Config{Source: src})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, history.ErrIndexUnavailable)
}

func TestRun_FetchFailureSkipsSnapshot(t *testing.T) {
	fetchErr := errors.New("giving up after 10 attempt(s)")
	src := &fakeSource{
		entries:  []history.HistoryEntry{{ID: 1}, {ID: 2}, {ID: 3}},
		bodies:   map[int64]string{1: areasBody("a"), 3: areasBody("c")},
		fetchErr: map[int64]error{2: fetchErr},
	}

	var skippedIDs []int64
	res, err := Run(context.Background(), Config{
		Source: src,
		OnSnapshotDone: func(p Progress) {
			if p.Skipped != nil {
				skippedIDs = append(skippedIDs, p.Entry.ID)
			}
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, hashes(res.Records.Records()))
	assert.Equal(t, []int64{2}, skippedIDs)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, int64(2), res.Skipped[0].Entry.ID)
	assert.Equal(t, SkipFetch, res.Skipped[0].Reason)
	assert.ErrorIs(t, res.Skipped[0].Err, fetchErr)
}

func TestRun_DecodePolicies(t *testing.T) {
	newSource := func() *fakeSource {
		return &fakeSource{
			entries: []history.HistoryEntry{{ID: 1}, {ID: 2}, {ID: 3}},
			bodies: map[int64]string{
				1: areasBody("a"),
				2: `[{"hash":"b","area":1,"percent":"not-a-number","type":"t"}]`,
				3: areasBody("c"),
			},
		}
	}

	t.Run("abort", func(t *testing.T) {
		src := newSource()
		res, err := Run(context.Background(), Config{Source: src})
		assert.Nil(t, res)
		var pe *history.ParseError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, int64(2), pe.SnapshotID)
		assert.Equal(t, []int64{1, 2}, src.fetched)
	})

	t.Run("skip", func(t *testing.T) {
		res, err := Run(context.Background(), Config{Source: newSource(), DecodePolicy: DecodeSkip})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, hashes(res.Records.Records()))
		require.Len(t, res.Skipped, 1)
		assert.Equal(t, SkipDecode, res.Skipped[0].Reason)
	})
}

func TestRun_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{
		entries: []history.HistoryEntry{{ID: 1}, {ID: 2}},
		bodies:  map[int64]string{1: areasBody("a"), 2: areasBody("b")},
	}
	_, err := Run(ctx, Config{
		Source: src,
		OnSnapshotDone: func(p Progress) {
			cancel()
		},
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int64{1}, src.fetched)
}

func TestParseDecodePolicy(t *testing.T) {
	p, err := ParseDecodePolicy("")
	require.NoError(t, err)
	assert.Equal(t, DecodeAbort, p)

	p, err = ParseDecodePolicy(" SKIP ")
	require.NoError(t, err)
	assert.Equal(t, DecodeSkip, p)

	_, err = ParseDecodePolicy("ignore")
	assert.Error(t, err)
}

// fakeUpstream serves the history API. failures[id] is the number of 500s
// the areas endpoint returns before succeeding; -1 means it never succeeds.
type fakeUpstream struct {
	mu       sync.Mutex
	ids      []int64
	failures map[int64]int
	hits     map[int64]int
}

func (u *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if r.URL.Path == "/api/history/public" {
		parts := make([]string, 0, len(u.ids))
		for _, id := range u.ids {
			parts = append(parts, fmt.Sprintf(`{"id":%d,"updatedAt":"2024-01-01T00:00:00Z","datetime":"x","status":true,"createdAt":"2024-01-01T00:00:00Z"}`, id))
		}
		fmt.Fprint(w, "["+strings.Join(parts, ",")+"]")
		return
	}

	var id int64
	if _, err := fmt.Sscanf(r.URL.Path, "/api/history/%d/areas", &id); err != nil {
		http.NotFound(w, r)
		return
	}
	u.hits[id]++
	if f := u.failures[id]; f < 0 || u.hits[id] <= f {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	fmt.Fprint(w, areasBody(fmt.Sprintf("h%d", id)))
}

func (u *fakeUpstream) hitCount(id int64) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hits[id]
}

func runAgainst(t *testing.T, up *fakeUpstream) (*Result, error) {
	t.Helper()
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)

	hc, err := whttp.NewClient(whttp.Options{Timeout: 5 * time.Second})
	require.NoError(t, err)
	src := history.NewClient(srv.URL, hc, whttp.RetryPolicy{MaxAttempts: 10, Delay: time.Millisecond}, nil)
	return Run(context.Background(), Config{Source: src})
}

func TestRun_RecoversAfterServerErrors(t *testing.T) {
	up := &fakeUpstream{
		ids:      []int64{10, 20},
		failures: map[int64]int{10: 3},
		hits:     map[int64]int{},
	}
	res, err := runAgainst(t, up)
	require.NoError(t, err)

	assert.Equal(t, []string{"h10", "h20"}, hashes(res.Records.Records()))
	assert.Equal(t, 4, up.hitCount(10))
	assert.Equal(t, 1, up.hitCount(20))
}

func TestRun_ExhaustedRetriesSkip(t *testing.T) {
	up := &fakeUpstream{
		ids:      []int64{10, 20, 30},
		failures: map[int64]int{20: -1},
		hits:     map[int64]int{},
	}
	res, err := runAgainst(t, up)
	require.NoError(t, err)

	assert.Equal(t, []string{"h10", "h30"}, hashes(res.Records.Records()))
	assert.Equal(t, 10, up.hitCount(20))
	require.Len(t, res.Skipped, 1)

	var se *whttp.StatusError
	require.True(t, errors.As(res.Skipped[0].Err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
}
