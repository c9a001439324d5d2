package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corbalt/collide"
	"github.com/corbalt/collide/barrier"
	"github.com/corbalt/collide/params"
	"github.com/corbalt/collide/pool"
)

func newRequest(url string) *collide.Request {
	return &collide.Request{Method: http.MethodGet, URL: url, Headers: make(http.Header)}
}

func TestProcessPositionExhaustedQueuePreArrives(t *testing.T) {
	w := New(0, 1, nil, pool.NewManager(nil, nil), nil, params.DefaultRaceParams(), nil, nil)
	bset := barrier.NewSet(1)

	done := make(chan struct{})
	go func() {
		w.ProcessPosition(context.Background(), 0, bset)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("exhausted worker did not pre-arrive at its barriers")
	}
}

func TestProcessPositionSendsRequestAndRecordsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	queue := []collide.WorkItem{{Request: newRequest(srv.URL + "/")}}
	w := New(0, 1, queue, pool.NewManager(nil, nil), nil, params.RaceParams{TailBytes: 1}, nil, nil)
	bset := barrier.NewSet(1)

	go func() {
		time.Sleep(5 * time.Millisecond)
		bset.Release.Open(false)
	}()

	w.ProcessPosition(context.Background(), 0, bset)

	resps := w.Responses()
	require.Len(t, resps, 1)
	require.NoError(t, resps[0].Err)
	require.Equal(t, http.StatusOK, resps[0].StatusCode)
}

func TestProcessPositionStoresSetCookieInJar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Set-Cookie", "session=abc123; Path=/")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	queue := []collide.WorkItem{{Request: newRequest(srv.URL + "/")}}
	w := New(0, 1, queue, pool.NewManager(nil, nil), nil, params.RaceParams{TailBytes: 1}, nil, nil)
	bset := barrier.NewSet(1)
	bset.Release.Open(false)

	w.ProcessPosition(context.Background(), 0, bset)

	target, _, err := splitURL(srv.URL + "/")
	require.NoError(t, err)
	require.Equal(t, "session=abc123", w.jar.Header(target.Host, "/"))
}

func TestProcessPositionCallbackRunsAfterReceived(t *testing.T) {
	queue := []collide.WorkItem{{Callback: func(cw collide.CallbackWorker) error {
		cw.SessionSet("ran", "yes")
		return nil
	}}}
	w := New(0, 1, queue, pool.NewManager(nil, nil), nil, params.DefaultRaceParams(), nil, nil)
	bset := barrier.NewSet(1)
	bset.Release.Open(false)

	w.ProcessPosition(context.Background(), 0, bset)

	v, ok := w.SessionGet("ran")
	require.True(t, ok)
	require.Equal(t, "yes", v)
	require.Empty(t, w.Responses())
}

func TestProcessPositionCallbackCanEnqueue(t *testing.T) {
	queue := []collide.WorkItem{{Callback: func(cw collide.CallbackWorker) error {
		cw.Enqueue(collide.WorkItem{Request: newRequest("http://example.test/extra")})
		return nil
	}}}
	w := New(0, 1, queue, pool.NewManager(nil, nil), nil, params.DefaultRaceParams(), nil, nil)
	bset := barrier.NewSet(1)
	bset.Release.Open(false)

	w.ProcessPosition(context.Background(), 0, bset)

	require.Equal(t, 2, w.Len())
}

func TestProcessPositionAbortedCallbackSkipsRun(t *testing.T) {
	ran := false
	queue := []collide.WorkItem{{Callback: func(cw collide.CallbackWorker) error {
		ran = true
		return nil
	}}}
	w := New(0, 1, queue, pool.NewManager(nil, nil), nil, params.DefaultRaceParams(), nil, nil)
	bset := barrier.NewSet(1)
	bset.Abort()

	w.ProcessPosition(context.Background(), 0, bset)

	require.False(t, ran)
}
