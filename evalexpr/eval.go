// Package evalexpr implements the <<<expr>>> template substitution pass
// described in spec.md §6: a bounded, sandboxed expression evaluator, not
// the source's arbitrary-language runtime eval (spec.md §9, design notes).
package evalexpr

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/corbalt/collide"
)

var delimiter = regexp.MustCompile(`<<<(.*?)>>>`)

// Env is the evaluation context exposed to every <<<expr>>> expression:
// `self` (the owning Worker, restricted to CallbackWorker) and `rand` (a
// zero-arg random-number facility bound per call, spec.md §6).
type Env struct {
	Self collide.CallbackWorker `expr:"self"`
	Rand func() float64         `expr:"rand"`
}

// compiled caches parsed expr-lang programs by source text, since the same
// request template is re-evaluated once per Worker. Every Worker runs on
// its own goroutine (spec.md §5 "true parallel threads, one per Worker")
// and they all share sharedCache, so access is guarded by mu.
type cache struct {
	mu       sync.RWMutex
	programs map[string]*vm.Program
}

func newCache() *cache { return &cache{programs: make(map[string]*vm.Program)} }

func (c *cache) compile(src string) (*vm.Program, error) {
	c.mu.RLock()
	p, ok := c.programs[src]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := expr.Compile(src, expr.Env(Env{}), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.programs[src]; ok {
		return existing, nil
	}
	c.programs[src] = p
	return p, nil
}

var sharedCache = newCache()

// Substitute scans text for <<<expr>>> markers and replaces each with the
// string-coerced result of evaluating expr against the given Worker. Text
// with no markers is returned unchanged (round-trip property R1).
func Substitute(text string, self collide.CallbackWorker) (string, error) {
	var evalErr error
	env := Env{Self: self, Rand: rand.Float64}

	out := delimiter.ReplaceAllStringFunc(text, func(match string) string {
		if evalErr != nil {
			return match
		}
		src := delimiter.FindStringSubmatch(match)[1]
		program, err := sharedCache.compile(src)
		if err != nil {
			evalErr = collide.NewError(collide.KindCallbackFailure, fmt.Sprintf("compile %q", src), err)
			return match
		}
		result, err := expr.Run(program, env)
		if err != nil {
			evalErr = collide.NewError(collide.KindCallbackFailure, fmt.Sprintf("evaluate %q", src), err)
			return match
		}
		return coerceString(result)
	})

	if evalErr != nil {
		return "", evalErr
	}
	return out, nil
}

func coerceString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// HasMarkers reports whether text contains at least one <<<...>>> template
// marker, letting callers skip the evaluator entirely when do_eval would be
// a no-op.
func HasMarkers(text string) bool {
	return delimiter.MatchString(text)
}
