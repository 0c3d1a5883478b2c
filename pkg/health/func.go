package health

import (
	"context"
	"time"
)

// FuncChecker adapts a plain probe function to the Checker interface, for
// health checks that don't fit HTTP/TCP/Exec/Process — e.g. a store
// connectivity probe that calls through an existing client rather than
// opening its own connection.
type FuncChecker struct {
	Name string
	Fn   func(ctx context.Context) error
}

// NewFuncChecker creates a new function-backed health checker named name.
func NewFuncChecker(name string, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{Name: name, Fn: fn}
}

// Check runs the wrapped probe function.
func (f *FuncChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if err := f.Fn(ctx); err != nil {
		return Result{
			Healthy:   false,
			Message:   err.Error(),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	return Result{
		Healthy:   true,
		Message:   f.Name + " ok",
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the health check type.
func (f *FuncChecker) Type() CheckType {
	return CheckTypeFunc
}
