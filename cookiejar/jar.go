// Package cookiejar implements the minimal RFC 6265-lite cookie store a
// Worker needs: a host+path+name keyed map with last-write-wins semantics,
// not the full RFC 6265 state machine a general HTTP client would carry
// (spec.md §9, design notes).
package cookiejar

import (
	"net/http"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"
)

type key struct {
	domain string
	path   string
	name   string
}

// Jar is a per-Worker, host-scoped cookie store. The zero value is not
// usable; use New.
type Jar struct {
	mu     sync.RWMutex
	values map[key]string
}

// New returns an empty Jar.
func New() *Jar {
	return &Jar{values: make(map[key]string)}
}

func normalizeDomain(host string) string {
	host = strings.ToLower(host)
	if h, _, err := splitHostPort(host); err == nil {
		host = h
	}
	return host
}

// isPublicSuffix reports whether host is itself a public suffix (e.g.
// "co.uk", "com"), the same check net/http/cookiejar uses to refuse
// setting cookies against a bare registry domain. Single-label hosts used
// by loopback test fixtures ("localhost") are never public suffixes.
func isPublicSuffix(host string) bool {
	suffix, icann := publicsuffix.PublicSuffix(host)
	return icann && suffix == host
}

func splitHostPort(hostport string) (string, string, error) {
	if i := strings.LastIndex(hostport, ":"); i != -1 && !strings.Contains(hostport[i:], "]") {
		return hostport[:i], hostport[i+1:], nil
	}
	return hostport, "", nil
}

// Set records (or overwrites) one cookie for the given host+path, last
// write wins.
func (j *Jar) Set(host, path, name, value string) {
	if path == "" {
		path = "/"
	}
	domain := normalizeDomain(host)
	if isPublicSuffix(domain) {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.values[key{domain, path, name}] = value
}

// SetAll merges every Set-Cookie header found in resp for host into the
// jar (Worker step "merge Set-Cookie entries into the jar").
func (j *Jar) SetAll(host string, headers http.Header) {
	for _, raw := range headers.Values("Set-Cookie") {
		c := parseSetCookie(raw)
		if c == nil {
			continue
		}
		j.Set(host, c.path, c.name, c.value)
	}
}

// Header builds the Cookie header value to send for host+path: every
// cookie whose path is a prefix of the request path, domain-matched.
func (j *Jar) Header(host, path string) string {
	if path == "" {
		path = "/"
	}
	domain := normalizeDomain(host)

	j.mu.RLock()
	defer j.mu.RUnlock()

	var b strings.Builder
	first := true
	for k, v := range j.values {
		if k.domain != domain {
			continue
		}
		if !pathMatch(k.path, path) {
			continue
		}
		if !first {
			b.WriteString("; ")
		}
		first = false
		b.WriteString(k.name)
		b.WriteByte('=')
		b.WriteString(v)
	}
	return b.String()
}

func pathMatch(cookiePath, reqPath string) bool {
	if cookiePath == "/" {
		return true
	}
	return strings.HasPrefix(reqPath, cookiePath)
}

// MergeOutgoing folds the Cookie entries a Connection is about to send into
// the jar (Worker step "save_sent_cookies"): these are name=value pairs
// taken from the outgoing Cookie header itself, not Set-Cookie.
func (j *Jar) MergeOutgoing(host, path string, cookies map[string]string) {
	for name, value := range cookies {
		j.Set(host, path, name, value)
	}
}

type setCookie struct {
	name, value, path string
}

// parseSetCookie extracts name, value, and Path from a raw Set-Cookie
// header value; unknown attributes are ignored since the jar does not
// implement expiry, domain override, or security flags.
func parseSetCookie(raw string) *setCookie {
	parts := strings.Split(raw, ";")
	if len(parts) == 0 {
		return nil
	}
	nv := strings.SplitN(strings.TrimSpace(parts[0]), "=", 2)
	if len(nv) != 2 {
		return nil
	}
	sc := &setCookie{name: strings.TrimSpace(nv[0]), value: strings.TrimSpace(nv[1]), path: "/"}
	for _, attr := range parts[1:] {
		attr = strings.TrimSpace(attr)
		lower := strings.ToLower(attr)
		if strings.HasPrefix(lower, "path=") {
			sc.path = attr[len("path="):]
		}
	}
	return sc
}
