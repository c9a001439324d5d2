// Package worker implements the Worker of spec.md §4.3: one sequential
// work-queue per goroutine, stepping through queue positions in lockstep
// with its peers via the barrier.Set the Driver hands it for each position.
package worker

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/corbalt/collide"
	"github.com/corbalt/collide/barrier"
	"github.com/corbalt/collide/connection"
	"github.com/corbalt/collide/cookiejar"
	"github.com/corbalt/collide/evalexpr"
	"github.com/corbalt/collide/metrics"
	"github.com/corbalt/collide/obslog"
	"github.com/corbalt/collide/params"
	"github.com/corbalt/collide/pool"
)

// AddressResolver supplies the one shared address a Worker must dial when
// connect_mode=same; the Driver is the only implementation since it alone
// can guarantee every Worker sees the same resolution (spec.md §4.4).
type AddressResolver interface {
	ForcedAddr(ctx context.Context, host string) (string, error)
}

// Worker owns one independent request queue, a per-worker cookie jar, and
// the key/value session store exposed to callbacks and <<<expr>>>
// evaluation via SessionGet/SessionSet (spec.md §4.3).
type Worker struct {
	id          int
	threadCount int

	manager  *pool.Manager
	resolver AddressResolver
	params   params.RaceParams

	log *obslog.Logger
	met *metrics.Collector

	jar *cookiejar.Jar

	mu        sync.Mutex
	queue     []collide.WorkItem
	responses []*collide.Response
	kv        map[string]string
}

// New builds a Worker with the given id and initial queue. threadCount is
// the total number of Workers in this run, needed to size connect_mode
// "different" address cycling (spec.md §4.1). log/met may be nil (a no-op
// facade is substituted).
func New(id, threadCount int, queue []collide.WorkItem, manager *pool.Manager, resolver AddressResolver, raceParams params.RaceParams, log *obslog.Logger, met *metrics.Collector) *Worker {
	if log == nil {
		log = obslog.Nop()
	}
	if met == nil {
		met = metrics.NewNop()
	}
	return &Worker{
		id:          id,
		threadCount: threadCount,
		manager:     manager,
		resolver:    resolver,
		params:      raceParams,
		log:         log.With(obslog.WorkerID(id)),
		met:         met,
		jar:         cookiejar.New(),
		queue:       append([]collide.WorkItem(nil), queue...),
		kv:          make(map[string]string),
	}
}

// ThreadNum implements collide.CallbackWorker.
func (w *Worker) ThreadNum() int { return w.id }

// Responses implements collide.CallbackWorker: a snapshot of every Response
// recorded so far, in queue order. A callback item appends a Response only
// when the callback returns an error (spec.md §8 scenario 3).
func (w *Worker) Responses() []*collide.Response {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*collide.Response, len(w.responses))
	copy(out, w.responses)
	return out
}

// SessionGet implements collide.CallbackWorker.
func (w *Worker) SessionGet(key string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	v, ok := w.kv[key]
	return v, ok
}

// SessionSet implements collide.CallbackWorker.
func (w *Worker) SessionSet(key, value string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.kv[key] = value
}

// Enqueue implements collide.CallbackWorker: a callback may grow its own
// Worker's queue, never another's (spec.md §4.3 "Queue extension").
func (w *Worker) Enqueue(item collide.WorkItem) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queue = append(w.queue, item)
}

// Len reports the current queue length, which may have grown since
// construction via Enqueue.
func (w *Worker) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

func (w *Worker) itemAt(i int) (collide.WorkItem, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i < 0 || i >= len(w.queue) {
		return collide.WorkItem{}, false
	}
	return w.queue[i], true
}

func (w *Worker) appendResponse(r *collide.Response) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.responses = append(w.responses, r)
}

// ProcessPosition advances this Worker through queue position i against the
// given barrier set, the unit of work the Driver dispatches once per
// position per Worker (spec.md §4.4). Three cases:
//
//   - queue exhausted at i: the Worker is "pre-arrived" at every barrier for
//     this position so peers are never stranded waiting on it (spec.md §9
//     open question, resolved: unequal queue lengths do not deadlock).
//   - a Callback item: arrives immediately (it has nothing to withhold),
//     waits for RELEASE like everyone else so it never runs ahead of the
//     synchronized instant, then runs after RECEIVED; a callback error is
//     recorded as a CallbackFailure Response.
//   - a Request item: evaluates <<<expr>>> markers if do_eval is set,
//     attaches jar cookies, lends a fresh Connection, and drives the
//     withhold-and-release Send.
func (w *Worker) ProcessPosition(ctx context.Context, i int, barriers *barrier.Set) {
	item, ok := w.itemAt(i)
	if !ok {
		barriers.Ready.Arrive(false)
		barriers.Received.Arrive(false)
		return
	}

	if item.IsCallback() {
		barriers.Ready.Arrive(false)
		aborted, err := barriers.Release.Wait(ctx)
		if err != nil {
			aborted = true
		}
		barriers.Received.Arrive(aborted)
		if aborted {
			return
		}
		if err := item.Callback(w); err != nil {
			w.log.Warn("callback failed", obslog.Position(i))
			w.appendResponse(&collide.Response{Err: collide.NewError(collide.KindCallbackFailure, "callback", err)})
		}
		return
	}

	w.processRequest(ctx, i, item.Request, barriers)
}

func (w *Worker) processRequest(ctx context.Context, i int, orig *collide.Request, barriers *barrier.Set) {
	req := orig.Clone()

	if w.params.DoEval {
		if err := w.substituteTemplates(req); err != nil {
			barriers.Ready.Arrive(true)
			barriers.Received.Arrive(true)
			w.appendResponse(&collide.Response{Err: err})
			return
		}
	}

	target, path, err := splitURL(req.URL)
	if err != nil {
		barriers.Ready.Arrive(true)
		barriers.Received.Arrive(true)
		w.appendResponse(&collide.Response{Err: collide.NewError(collide.KindConfigurationFailure, "parse request url", err)})
		return
	}

	if jarHeader := w.jar.Header(target.Host, path); jarHeader != "" {
		if req.Cookies == nil {
			req.Cookies = make(map[string]string)
		}
		for _, nv := range splitCookiePairs(jarHeader) {
			req.Cookies[nv[0]] = nv[1]
		}
	}

	plan := connection.DialPlan{Mode: w.params.ConnectMode, WorkerCount: w.threadCount}
	if w.params.ConnectMode == params.ConnectSame && w.resolver != nil {
		addr, err := w.resolver.ForcedAddr(ctx, target.Host)
		if err != nil {
			barriers.Ready.Arrive(true)
			barriers.Received.Arrive(true)
			w.appendResponse(&collide.Response{Err: err})
			return
		}
		plan.ForcedAddr = addr
	}

	p := w.manager.PoolFor(target.Scheme, target.Host, target.Port)
	conn := p.Lend(w.id, plan, w.params)

	resp, _ := conn.Send(ctx, req, barriers)

	outcome := "ok"
	if resp.Err != nil {
		outcome = collide.KindOf(resp.Err).String()
	}
	w.met.RequestsByOutcome.WithLabelValues(outcome).Inc()

	if w.params.SaveSentCookies && len(req.Cookies) > 0 {
		w.jar.MergeOutgoing(target.Host, path, req.Cookies)
	}
	if resp.Headers != nil {
		w.jar.SetAll(target.Host, resp.Headers)
	}

	w.log.Debug("request completed", obslog.Position(i))
	w.appendResponse(resp)
}

// substituteTemplates evaluates <<<expr>>> markers in the URL, every header
// value, and the body text, in place on req (spec.md §6).
func (w *Worker) substituteTemplates(req *collide.Request) error {
	if evalexpr.HasMarkers(req.URL) {
		out, err := evalexpr.Substitute(req.URL, w)
		if err != nil {
			return err
		}
		req.URL = out
	}
	for name, values := range req.Headers {
		for i, v := range values {
			if !evalexpr.HasMarkers(v) {
				continue
			}
			out, err := evalexpr.Substitute(v, w)
			if err != nil {
				return err
			}
			req.Headers[name][i] = out
		}
	}
	if len(req.Body) > 0 && evalexpr.HasMarkers(string(req.Body)) {
		out, err := evalexpr.Substitute(string(req.Body), w)
		if err != nil {
			return err
		}
		req.Body = []byte(out)
	}
	return nil
}

func splitURL(raw string) (connection.Target, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return connection.Target{}, "", err
	}
	if u.Host == "" {
		return connection.Target{}, "", fmt.Errorf("url %q has no host", raw)
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return connection.Target{Scheme: scheme, Host: host, Port: port}, path, nil
}

func splitCookiePairs(header string) [][2]string {
	var out [][2]string
	for _, part := range strings.Split(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" {
			continue
		}
		out = append(out, [2]string{strings.TrimSpace(name), strings.TrimSpace(value)})
	}
	return out
}
