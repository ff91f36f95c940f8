// Package groutine starts goroutines that carry a name, both as a pprof label
// and in their context, so stack dumps and logs show what each one runs.
package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey struct{}

// LabelKey is the pprof label holding the goroutine name.
const LabelKey = "goroutine_name"

// Go runs fn in a new goroutine named name. The context passed to fn derives
// from parent; a nil parent means context.Background().
//
//	groutine.Go(ctx, "sequencer-loop", s.loop)
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}
	go pprof.Do(parent, pprof.Labels(LabelKey, name), func(ctx context.Context) {
		fn(context.WithValue(ctx, ctxKey{}, name))
	})
}

// Name returns the name given to Go, or "" outside such a goroutine.
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(ctxKey{}).(string)
	return name
}
