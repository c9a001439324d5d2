// Package driver implements the Driver of spec.md §4.4: it creates N
// Workers, distributes work queues, and orchestrates the three-phase
// barrier protocol for each queue position until every Worker's queue is
// exhausted.
package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/corbalt/collide"
	"github.com/corbalt/collide/barrier"
	"github.com/corbalt/collide/connection"
	"github.com/corbalt/collide/metrics"
	"github.com/corbalt/collide/obslog"
	"github.com/corbalt/collide/params"
	"github.com/corbalt/collide/pool"
	"github.com/corbalt/collide/worker"
)

// Driver runs one Process call at a time against a shared pool.Manager; it
// owns every barrier set and the Worker pool for that call (spec.md §4.4
// "Ownership").
type Driver struct {
	manager *pool.Manager
	log     *obslog.Logger
	met     *metrics.Collector

	mu       sync.Mutex
	resolved map[string]*hostResolution
}

type hostResolution struct {
	once sync.Once
	addr string
	err  error
}

// New builds a Driver. log/met may be nil (a no-op facade is substituted).
func New(log *obslog.Logger, met *metrics.Collector) *Driver {
	if log == nil {
		log = obslog.Nop()
	}
	if met == nil {
		met = metrics.NewNop()
	}
	return &Driver{
		manager:  pool.NewManager(log, met),
		log:      log,
		met:      met,
		resolved: make(map[string]*hostResolution),
	}
}

// ForcedAddr implements worker.AddressResolver: the one resolution per host
// every Worker's Connection must share under connect_mode=same (spec.md
// §4.1). Concurrent first callers for the same host share one lookup.
func (d *Driver) ForcedAddr(ctx context.Context, host string) (string, error) {
	d.mu.Lock()
	r, ok := d.resolved[host]
	if !ok {
		r = &hostResolution{}
		d.resolved[host] = r
	}
	d.mu.Unlock()

	r.once.Do(func() {
		r.addr, r.err = connection.ResolveOnce(ctx, host)
	})
	return r.addr, r.err
}

// Process is the programmatic entrypoint of spec.md §6:
// process(work, thread_count, race_args) -> [WorkerResult...]. work is
// either a single *collide.Request (broadcast to every Worker) or a
// []collide.WorkItem (the same list given to every Worker).
func (d *Driver) Process(ctx context.Context, work any, threadCount int, raceArgs map[string]any) ([]worker.Result, error) {
	raceParams, err := params.Decode(raceArgs)
	if err != nil {
		return nil, err
	}
	if threadCount < 1 {
		return nil, collide.NewError(collide.KindConfigurationFailure, "thread_count must be >= 1", nil)
	}
	initial, err := normalizeWork(work)
	if err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	log := d.log.With(obslog.RunID(runID))

	workers := make([]*worker.Worker, threadCount)
	for i := range workers {
		queue := append([]collide.WorkItem(nil), initial...)
		workers[i] = worker.New(i, threadCount, queue, d.manager, d, raceParams, log, d.met)
	}

	var globalErr *multierror.Error

	for position := 0; ; position++ {
		anyRemaining := false
		for _, w := range workers {
			if w.Len() > position {
				anyRemaining = true
				break
			}
		}
		if !anyRemaining {
			break
		}

		if aborted := d.runPosition(ctx, log, position, workers, raceParams, &globalErr); aborted {
			break
		}
	}

	results := make([]worker.Result, len(workers))
	for i, w := range workers {
		results[i] = worker.ResultOf(w)
	}
	return results, globalErr.ErrorOrNil()
}

// runPosition drives every Worker through one queue position and reports
// whether the run must abort (a barrier timed out).
func (d *Driver) runPosition(ctx context.Context, log *obslog.Logger, position int, workers []*worker.Worker, raceParams params.RaceParams, globalErr **multierror.Error) (aborted bool) {
	bset := barrier.NewSet(len(workers))

	posCtx, cancel := context.WithTimeout(ctx, raceParams.BarrierTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(posCtx)
	for _, w := range workers {
		w := w
		g.Go(func() error {
			w.ProcessPosition(gctx, position, bset)
			return nil
		})
	}

	if _, err := bset.Ready.Wait(posCtx); err != nil {
		log.Error("barrier timeout waiting for READY", obslog.Position(position))
		*globalErr = multierror.Append(*globalErr, collide.NewError(collide.KindBarrierTimeout,
			fmt.Sprintf("position %d: READY did not fill before timeout", position), err))
		// A stalled Connection may be blocked on a socket read that no
		// context deadline reaches; Abort unblocks every Worker still
		// waiting on a barrier, but does not wait for goroutines stuck
		// outside one.
		bset.Abort()
		return true
	}

	bset.Release.Open(false)

	if _, err := bset.Received.Wait(posCtx); err != nil {
		log.Error("barrier timeout waiting for RECEIVED", obslog.Position(position))
		*globalErr = multierror.Append(*globalErr, collide.NewError(collide.KindBarrierTimeout,
			fmt.Sprintf("position %d: RECEIVED did not fill before timeout", position), err))
		bset.Abort()
		return true
	}

	_ = g.Wait()
	return false
}

func normalizeWork(work any) ([]collide.WorkItem, error) {
	switch v := work.(type) {
	case *collide.Request:
		return []collide.WorkItem{{Request: v}}, nil
	case collide.Request:
		return []collide.WorkItem{{Request: &v}}, nil
	case []collide.WorkItem:
		return append([]collide.WorkItem(nil), v...), nil
	default:
		return nil, collide.NewError(collide.KindConfigurationFailure,
			fmt.Sprintf("unsupported work type %T", work), nil)
	}
}
