package driver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corbalt/collide"
)

func newRequest(url string) *collide.Request {
	return &collide.Request{Method: http.MethodGet, URL: url, Headers: make(http.Header)}
}

// TestProcessBroadcastsSingleRequestToEveryWorker is scenario 1 of spec.md
// §8: N workers, one shared Request, every Worker's queue ends up with one
// Response.
func TestProcessBroadcastsSingleRequestToEveryWorker(t *testing.T) {
	var mu sync.Mutex
	var seenAt []time.Time

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seenAt = append(seenAt, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(nil, nil)
	results, err := d.Process(context.Background(), newRequest(srv.URL+"/"), 5, map[string]any{"tail_bytes": 1})
	require.NoError(t, err)
	require.Len(t, results, 5)

	for _, r := range results {
		require.Len(t, r.Responses, 1)
		require.NoError(t, r.Responses[0].Err)
		require.Equal(t, http.StatusOK, r.Responses[0].StatusCode)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seenAt, 5)
	first, last := seenAt[0], seenAt[0]
	for _, ts := range seenAt {
		if ts.Before(first) {
			first = ts
		}
		if ts.After(last) {
			last = ts
		}
	}
	require.Less(t, last.Sub(first), time.Second)
}

// TestProcessCallbackExtendsOnlyItsOwnQueue is scenario 3 of spec.md §8: a
// callback-only work list, final per-worker Responses has length 1.
func TestProcessCallbackExtendsOnlyItsOwnQueue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	url := srv.URL + "/extra"
	work := []collide.WorkItem{
		{Callback: func(cw collide.CallbackWorker) error {
			cw.Enqueue(collide.WorkItem{Request: newRequest(url)})
			return nil
		}},
	}

	d := New(nil, nil)
	results, err := d.Process(context.Background(), work, 3, map[string]any{"tail_bytes": 1})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		require.Len(t, r.Responses, 1)
		require.Equal(t, http.StatusOK, r.Responses[0].StatusCode)
	}
}

// TestProcessBarrierTimeoutAbortsGlobally is scenario 6 of spec.md §8: the
// fixture delays every response by 200ms, longer than barrier_timeout, so
// RECEIVED does not fill in time and the Driver aborts the whole run.
func TestProcessBarrierTimeoutAbortsGlobally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(nil, nil)
	_, err := d.Process(context.Background(), newRequest(srv.URL+"/"), 2, map[string]any{
		"tail_bytes":      1,
		"barrier_timeout": "50ms",
	})
	require.Error(t, err)
}

// TestProcessConcurrentDoEvalIsRaceFree is scenario 2 of spec.md §8: N=4
// workers, do_eval=true, all racing the same queue position and all
// compiling/evaluating the same <<<expr>>> template concurrently through
// evalexpr's shared program cache. Run with `go test -race` to catch any
// unsynchronized access to that cache.
func TestProcessConcurrentDoEvalIsRaceFree(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	req := &collide.Request{
		Method:  http.MethodPost,
		URL:     srv.URL + "/",
		Headers: make(http.Header),
		Body:    []byte(`{"t":"<<<self.ThreadNum()>>>"}`),
	}

	const n = 4
	d := New(nil, nil)
	results, err := d.Process(context.Background(), req, n, map[string]any{
		"tail_bytes": 1,
		"do_eval":    true,
	})
	require.NoError(t, err)
	require.Len(t, results, n)

	seen := make(map[string]bool, n)
	for _, r := range results {
		require.Len(t, r.Responses, 1)
		require.NoError(t, r.Responses[0].Err)
		require.Equal(t, http.StatusOK, r.Responses[0].StatusCode)
		body := string(r.Responses[0].Body)
		seen[body] = true
	}
	for i := 0; i < n; i++ {
		require.True(t, seen[fmt.Sprintf(`{"t":"%d"}`, i)], "missing evaluated body for worker %d: %v", i, seen)
	}
}

func TestProcessRejectsInvalidRaceArgs(t *testing.T) {
	d := New(nil, nil)
	_, err := d.Process(context.Background(), newRequest("http://example.test/"), 1, map[string]any{"tail_bytes": 0})
	require.Error(t, err)
	require.Equal(t, collide.KindConfigurationFailure, collide.KindOf(err))
}
