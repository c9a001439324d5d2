// Copyright 2014 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package collide drives many near-simultaneous HTTP/1.1 requests at a
// target so that their final bytes land inside the smallest window the
// network allows, for probing server-side race conditions.
package collide

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Request is an immutable-once-enqueued HTTP/1.1 request descriptor.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
	Cookies map[string]string
}

// Clone returns a deep copy safe for a single Connection to mutate (e.g. to
// splice in cookies or evaluated template output) without affecting the
// Worker's queued copy.
func (r *Request) Clone() *Request {
	n := &Request{
		Method:  r.Method,
		URL:     r.URL,
		Headers: r.Headers.Clone(),
		Cookies: make(map[string]string, len(r.Cookies)),
	}
	if r.Body != nil {
		n.Body = append([]byte(nil), r.Body...)
	}
	for k, v := range r.Cookies {
		n.Cookies[k] = v
	}
	return n
}

// Response is the outcome of one Connection's send/receive cycle.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte

	ConnID uuid.UUID

	TConnect  time.Time
	TReady    time.Time
	TRelease  time.Time
	TFirstByte time.Time

	Err error
}

// Callback is a work-queue entry that runs in its Worker's context instead
// of sending a request. It may append new items via w.Enqueue but must not
// touch another Worker's state. Errors surface as CallbackFailure.
type Callback func(w CallbackWorker) error

// CallbackWorker is the restricted view of a Worker exposed to callbacks and
// to <<<expr>>> template evaluation (see package evalexpr).
type CallbackWorker interface {
	ThreadNum() int
	Responses() []*Response
	SessionGet(key string) (string, bool)
	SessionSet(key, value string)
	Enqueue(item WorkItem)
}

// WorkItem is one entry in a Worker's queue: exactly one of Request or
// Callback is set.
type WorkItem struct {
	Request  *Request
	Callback Callback
}

// IsCallback reports whether this item is a callback rather than a request.
func (w WorkItem) IsCallback() bool { return w.Callback != nil }
