package wire

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildSplitsTailFromBody(t *testing.T) {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	f, err := Build(http.MethodPost, "http://example.test/echo", h, []byte(`{"a":1}`), 3)
	require.NoError(t, err)

	full := append(append([]byte(nil), f.Head()...), f.Tail...)
	require.Equal(t, `{"a":1}`, string(full[len(full)-7:]))
	require.Len(t, f.Tail, 3)
	require.Equal(t, `{"a`, string(full[len(full)-7:len(full)-4]))
}

func TestBuildWithholdsFromHeaderTerminatorWhenBodyShort(t *testing.T) {
	f, err := Build(http.MethodGet, "http://example.test/", make(http.Header), nil, 1)
	require.NoError(t, err)
	require.Len(t, f.Tail, 1)
	require.Equal(t, byte('\n'), f.Tail[0])
}

func TestBuildIsDeterministic(t *testing.T) {
	h := make(http.Header)
	h.Set("X-Foo", "bar")
	f1, err := Build(http.MethodGet, "http://example.test/a?b=c", h, nil, 2)
	require.NoError(t, err)
	f2, err := Build(http.MethodGet, "http://example.test/a?b=c", h, nil, 2)
	require.NoError(t, err)
	require.Equal(t, f1.Head(), f2.Head())
	require.Equal(t, f1.Tail, f2.Tail)
}

func TestBuildStripsChunkedAndExpectHeaders(t *testing.T) {
	h := make(http.Header)
	h.Set("Transfer-Encoding", "chunked")
	h.Set("Expect", "100-continue")
	f, err := Build(http.MethodPost, "http://example.test/", h, []byte("x"), 1)
	require.NoError(t, err)
	full := append(append([]byte(nil), f.Head()...), f.Tail...)
	require.NotContains(t, string(full), "Transfer-Encoding")
	require.NotContains(t, string(full), "Expect")
	require.Contains(t, string(full), "Content-Length: 1")
}

func TestBuildRejectsZeroTailBytes(t *testing.T) {
	_, err := Build(http.MethodGet, "http://example.test/", make(http.Header), nil, 0)
	require.Error(t, err)
}

func TestBuildSplitsHeadersFromBodyPrefixWhenTailEntirelyInBody(t *testing.T) {
	f, err := Build(http.MethodPost, "http://example.test/", make(http.Header), []byte("abcdef"), 2)
	require.NoError(t, err)
	require.True(t, len(f.Headers) > 0)
	require.Equal(t, "abcd", string(f.BodyPrefix))
	require.Equal(t, "ef", string(f.Tail))
}

func TestBuildWithholdsIntoHeadersWhenTailExceedsBody(t *testing.T) {
	f, err := Build(http.MethodGet, "http://example.test/", make(http.Header), nil, 4)
	require.NoError(t, err)
	require.Empty(t, f.BodyPrefix)
	require.Len(t, f.Tail, 4)
}

func TestBuildSetsHostHeader(t *testing.T) {
	f, err := Build(http.MethodGet, "http://example.test:8080/x", make(http.Header), nil, 1)
	require.NoError(t, err)
	full := string(append(append([]byte(nil), f.Head()...), f.Tail...))
	require.Contains(t, full, "Host: example.test:8080\r\n")
}
