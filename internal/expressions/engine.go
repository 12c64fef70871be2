package expressions

import (
	"context"
	"sync"

	"github.com/rendis/flowgraph/pkg/schema"
)

// Engine evaluates expressions against a run's variables.
// Three implementations: CEL (conditions), GoJQ (JSON extraction), Expr (calculations).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Set bundles the engines handed to built-in node handlers.
type Set struct {
	CEL  *CELEngine
	Expr *ExprEngine
	JQ   *GoJQEngine
}

// NewSet creates all three engines.
func NewSet() (*Set, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Set{
		CEL:  celEngine,
		Expr: NewExprEngine(),
		JQ:   NewGoJQEngine(),
	}, nil
}

// maxCachedPrograms bounds each engine's compiled program cache. Diagrams
// usually hold a handful of distinct expressions; templated ones may not.
const maxCachedPrograms = 512

// programCache memoizes compiled programs by source text.
type programCache[P any] struct {
	mu       sync.RWMutex
	programs map[string]P
}

func newProgramCache[P any]() *programCache[P] {
	return &programCache[P]{programs: make(map[string]P)}
}

// get returns the cached program for src, compiling it on a miss. Compile
// errors are not cached. When the cache is full an arbitrary entry is evicted.
func (c *programCache[P]) get(src string, compile func(string) (P, error)) (P, error) {
	c.mu.RLock()
	p, ok := c.programs[src]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.programs[src]; ok {
		return p, nil
	}
	p, err := compile(src)
	if err != nil {
		return p, err
	}
	if len(c.programs) >= maxCachedPrograms {
		for k := range c.programs {
			delete(c.programs, k)
			break
		}
	}
	c.programs[src] = p
	return p, nil
}

func (c *programCache[P]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.programs)
}

func compileError(lang, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s compile error in %q: %s", lang, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}

func evalError(lang, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeExecution, "%s evaluation failed for %q: %s", lang, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}
