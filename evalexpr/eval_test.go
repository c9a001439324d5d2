package evalexpr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corbalt/collide"
)

// workerStub is a minimal collide.CallbackWorker for exercising the
// evaluator without pulling in the worker package (would be a cycle).
type workerStub struct {
	thread int
}

func (w *workerStub) ThreadNum() int                        { return w.thread }
func (w *workerStub) Responses() []*collide.Response         { return nil }
func (w *workerStub) SessionGet(string) (string, bool)       { return "", false }
func (w *workerStub) SessionSet(string, string)               {}
func (w *workerStub) Enqueue(collide.WorkItem)                {}

func TestHasMarkers(t *testing.T) {
	require.True(t, HasMarkers(`{"t": "<<<self.ThreadNum()>>>"}`))
	require.False(t, HasMarkers(`{"t": "static"}`))
}

func TestSubstituteNoMarkersIsIdentity(t *testing.T) {
	// R1: text with no markers is unchanged regardless of evaluation.
	out, err := Substitute("no markers here", &workerStub{})
	require.NoError(t, err)
	require.Equal(t, "no markers here", out)
}

func TestSubstituteThreadNum(t *testing.T) {
	w := &workerStub{thread: 3}
	out, err := Substitute(`{"t": "<<<self.ThreadNum()>>>"}`, w)
	require.NoError(t, err)
	require.Equal(t, `{"t": "3"}`, out)
}

func TestSubstituteArithmetic(t *testing.T) {
	out, err := Substitute("value=<<<1+2>>>", &workerStub{})
	require.NoError(t, err)
	require.Equal(t, "value=3", out)
}

func TestSubstituteInvalidExpressionErrors(t *testing.T) {
	_, err := Substitute("<<<this is not valid expr ((>>>", &workerStub{})
	require.Error(t, err)
	require.Equal(t, collide.KindCallbackFailure, collide.KindOf(err))
}
