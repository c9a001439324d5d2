// Package wire serializes an HTTP/1.1 request to bytes and splits the
// result into a "pre-release" prefix and a withheld "tail" so a Connection
// can write everything but the last few bytes, then flush the tail only
// after the RELEASE barrier opens.
//
// Known Content-Length only: chunked request bodies are never produced,
// since the tail-withholding trick requires the full frame length to be
// fixed before any byte is sent.
package wire

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
)

// Frame is a fully serialized HTTP/1.1 request, already split at the
// withhold boundary and further split into the HEADERS_SENT/BODY_PENDING
// sub-phases of the Connection state machine (spec.md §4.1).
type Frame struct {
	// Headers is the request line + header block, up to and including as
	// much of the trailing CRLFCRLF as survives withholding.
	Headers []byte
	// BodyPrefix is the body bytes written before RELEASE, after Headers.
	BodyPrefix []byte
	// Tail is the withheld suffix, flushed only after RELEASE opens.
	Tail []byte
}

// Head is everything safe to write before RELEASE opens (Headers + BodyPrefix).
func (f Frame) Head() []byte { return append(append([]byte(nil), f.Headers...), f.BodyPrefix...) }

// Total returns the full request length in bytes.
func (f Frame) Total() int { return len(f.Headers) + len(f.BodyPrefix) + len(f.Tail) }

// Build serializes method/url/headers/body into an RFC 7230 request frame
// and withholds the last tailBytes of it. tailBytes must be >= 1.
//
// When body is long enough, the tail is drawn from the end of the body.
// Otherwise (e.g. a bodyless GET) the tail is drawn from the end of the
// blank-line header terminator, padding backward into the header block if
// tailBytes exceeds the terminator's own length — this keeps even a
// zero-body request byte-identical to a single-shot send once released.
func Build(method, rawURL string, headers http.Header, body []byte, tailBytes int) (Frame, error) {
	if tailBytes < 1 {
		return Frame{}, fmt.Errorf("wire: tailBytes must be >= 1, got %d", tailBytes)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return Frame{}, fmt.Errorf("wire: parse url: %w", err)
	}
	if u.Host == "" {
		return Frame{}, fmt.Errorf("wire: url %q has no host", rawURL)
	}

	reqURI := u.RequestURI()
	if reqURI == "" {
		reqURI = "/"
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\n", method, reqURI)

	h := headers.Clone()
	if h == nil {
		h = make(http.Header)
	}
	if h.Get("Host") == "" {
		h.Set("Host", u.Host)
	}
	if h.Get("Content-Length") == "" {
		h.Set("Content-Length", strconv.Itoa(len(body)))
	}
	// Connection race scenarios never want chunked transfer-encoding or
	// Expect: 100-continue — both defeat known-length tail withholding.
	h.Del("Transfer-Encoding")
	h.Del("Expect")

	writeHeadersSorted(&buf, h)
	buf.WriteString("\r\n")

	headersBlock := append([]byte(nil), buf.Bytes()...)
	full := append(append([]byte(nil), headersBlock...), body...)

	total := len(full)
	if tailBytes > total {
		tailBytes = total
	}
	splitPoint := total - tailBytes

	head := full[:splitPoint]
	tail := append([]byte(nil), full[splitPoint:]...)

	hdrLen := len(headersBlock)
	if hdrLen > len(head) {
		hdrLen = len(head)
	}

	return Frame{
		Headers:    append([]byte(nil), head[:hdrLen]...),
		BodyPrefix: append([]byte(nil), head[hdrLen:]...),
		Tail:       tail,
	}, nil
}

// writeHeadersSorted writes headers in a stable, case-preserved order so
// repeated Build calls for the same request are byte-identical (R2).
func writeHeadersSorted(buf *bytes.Buffer, h http.Header) {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range h[k] {
			fmt.Fprintf(buf, "%s: %s\r\n", k, v)
		}
	}
}
