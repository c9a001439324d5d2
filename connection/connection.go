// Package connection implements the withhold-and-release Connection: one
// TCP (optionally TLS) socket per Worker per in-flight request, driving the
// three-barrier handshake with its peers via a shared barrier.Set
// (spec.md §4.1).
package connection

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corbalt/collide"
	"github.com/corbalt/collide/barrier"
	"github.com/corbalt/collide/internal/wire"
	"github.com/corbalt/collide/metrics"
	"github.com/corbalt/collide/obslog"
	"github.com/corbalt/collide/params"
)

// Connection is not safe for concurrent use by multiple goroutines; each is
// owned by exactly one Worker for the lifetime of one Send call.
type Connection struct {
	ID       uuid.UUID
	WorkerID int
	Target   Target
	Plan     DialPlan

	params params.RaceParams
	log    *obslog.Logger
	met    *metrics.Collector

	mu    sync.Mutex
	state State
	conn  net.Conn
}

// New builds a Connection bound to target, owned by workerID. The barrier
// set is supplied per-call to Send, not at construction, since the Worker
// rebinds it between requests (spec.md §4.1 "Creation inputs").
func New(workerID int, target Target, plan DialPlan, p params.RaceParams, log *obslog.Logger, met *metrics.Collector) *Connection {
	if log == nil {
		log = obslog.Nop()
	}
	if met == nil {
		met = metrics.NewNop()
	}
	id := uuid.New()
	return &Connection{
		ID:       id,
		WorkerID: workerID,
		Target:   target,
		Plan:     plan,
		params:   p,
		log:      log.With(obslog.ConnID(id.String()), obslog.WorkerID(workerID)),
		met:      met,
		state:    StateInit,
	}
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.log.Debug("state transition", obslog.State(s.String()))
}

// State returns the Connection's current state machine node.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close closes the underlying socket, if any. Safe to call multiple times.
func (c *Connection) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Send drives one full withhold-and-release exchange: dial, write
// everything but the tail, arrive at barriers.Ready, block until
// barriers.Release opens, flush the tail, parse the response, and arrive
// at barriers.Received. It always returns a non-nil *collide.Response (with
// Err set on failure) so the Worker can record a result even when the send
// never completed (spec.md §4.1 "Failure modes").
func (c *Connection) Send(ctx context.Context, req *collide.Request, barriers *barrier.Set) (*collide.Response, error) {
	resp := &collide.Response{ConnID: c.ID}
	arrivedReady := false

	defer func() {
		if !arrivedReady {
			barriers.Ready.Arrive(true)
		}
		barriers.Received.Arrive(resp.Err != nil)
		_ = c.Close()
	}()

	addr, err := ResolveAddr(ctx, c.Target, c.WorkerID, c.Plan)
	if err != nil {
		resp.Err = err
		return resp, err
	}

	dialStart := time.Now()
	dialer := &net.Dialer{}
	if d := c.params.SendKwargs.RequestTimeout; d > 0 {
		dialer.Deadline = dialStart.Add(d)
	}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		resp.Err = collide.NewError(collide.KindTransportFailure, "dial "+addr, err)
		c.met.TransportFailures.Inc()
		return resp, resp.Err
	}
	if !dialer.Deadline.IsZero() {
		_ = rawConn.SetDeadline(dialer.Deadline)
	}

	sendConn := net.Conn(rawConn)
	if c.Target.Scheme == "https" {
		tlsConn := tls.Client(rawConn, &tls.Config{
			ServerName:         c.Target.Host,
			InsecureSkipVerify: c.params.SendKwargs.InsecureSkipVerify,
		})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = rawConn.Close()
			resp.Err = collide.NewError(collide.KindTransportFailure, "tls handshake", err)
			c.met.TransportFailures.Inc()
			return resp, resp.Err
		}
		sendConn = tlsConn
	}

	c.mu.Lock()
	c.conn = sendConn
	c.mu.Unlock()
	c.met.ConnectDuration.Observe(time.Since(dialStart).Seconds())
	resp.TConnect = time.Now()
	c.setState(StateConnected)

	headers := req.Headers.Clone()
	if headers == nil {
		headers = make(http.Header)
	}
	if req.Cookies != nil && len(req.Cookies) > 0 {
		headers.Set("Cookie", cookieHeader(req.Cookies))
	}

	tailBytes := c.params.TailBytes
	if tailBytes < 1 {
		tailBytes = 1
	}
	frame, err := wire.Build(req.Method, req.URL, headers, req.Body, tailBytes)
	if err != nil {
		resp.Err = collide.NewError(collide.KindProtocolFailure, "build request frame", err)
		return resp, resp.Err
	}

	if _, err := sendConn.Write(frame.Headers); err != nil {
		resp.Err = collide.NewError(collide.KindTransportFailure, "write headers", err)
		c.met.TransportFailures.Inc()
		return resp, resp.Err
	}
	c.setState(StateHeadersSent)

	if len(frame.BodyPrefix) > 0 {
		if _, err := sendConn.Write(frame.BodyPrefix); err != nil {
			resp.Err = collide.NewError(collide.KindTransportFailure, "write body prefix", err)
			c.met.TransportFailures.Inc()
			return resp, resp.Err
		}
	}
	c.setState(StateBodyPending)

	resp.TReady = time.Now()
	c.setState(StateReady)
	barrierWaitStart := time.Now()
	barriers.Ready.Arrive(false)
	arrivedReady = true

	aborted, err := barriers.Release.Wait(ctx)
	c.met.BarrierWaitSeconds.WithLabelValues("release").Observe(time.Since(barrierWaitStart).Seconds())
	if err != nil {
		resp.Err = collide.NewError(collide.KindBarrierTimeout, "waiting for RELEASE", err)
		return resp, resp.Err
	}
	if aborted {
		resp.Err = collide.NewError(collide.KindTransportFailure, "aborted before RELEASE", nil)
		return resp, resp.Err
	}

	resp.TRelease = time.Now()
	c.setState(StateReleased)

	if _, err := sendConn.Write(frame.Tail); err != nil {
		resp.Err = collide.NewError(collide.KindTransportFailure, "write tail", err)
		c.met.TransportFailures.Inc()
		return resp, resp.Err
	}

	br := bufio.NewReader(sendConn)
	httpResp, err := http.ReadResponse(br, &http.Request{Method: req.Method})
	if err != nil {
		resp.Err = collide.NewError(collide.KindProtocolFailure, "read response", err)
		return resp, resp.Err
	}
	resp.TFirstByte = time.Now()
	c.setState(StateResponseHeaders)
	resp.StatusCode = httpResp.StatusCode
	resp.Headers = httpResp.Header

	c.setState(StateResponseBody)
	body, err := io.ReadAll(httpResp.Body)
	_ = httpResp.Body.Close()
	if err != nil {
		resp.Err = collide.NewError(collide.KindProtocolFailure, "read response body", err)
		return resp, resp.Err
	}
	resp.Body = body
	c.setState(StateDone)

	return resp, nil
}

// cookieHeader joins cookies into a single Cookie header value. Names are
// sorted first: map iteration order is randomized by Go, and an
// unsorted join would make the emitted wire bytes non-deterministic across
// otherwise-identical runs, violating R2 (spec.md §8).
func cookieHeader(cookies map[string]string) string {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%s", name, cookies[name])
	}
	return strings.Join(parts, "; ")
}
