package wasmkernel

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
)

// newRuntime returns a runtime that terminates function execution when the
// call context is canceled or times out.
func newRuntime(ctx context.Context) wazero.Runtime {
	cfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	return wazero.NewRuntimeWithConfig(ctx, cfg)
}

func newModuleConfig() wazero.ModuleConfig {
	return wazero.NewModuleConfig().WithName("").WithStartFunctions()
}

type executionTimeoutKey struct{}

// WithExecutionTimeout returns a context with timeout and attaches the
// duration so errors can report the configured limit.
func WithExecutionTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	return context.WithValue(ctx, executionTimeoutKey{}, timeout), cancel
}

// HumanizeExecutionError rewrites runtime cancellation and timeout errors
// into messages about kernel execution.
func HumanizeExecutionError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	timeoutText := ""
	if timeout, ok := ctx.Value(executionTimeoutKey{}).(time.Duration); ok && timeout > 0 {
		timeoutText = " (" + timeout.String() + ")"
	}
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "context deadline exceeded") {
		return errors.New("wasm kernel exceeded the execution time limit" + timeoutText)
	}
	if errors.Is(err, context.Canceled) || strings.Contains(err.Error(), "context canceled") {
		return errors.New("wasm kernel execution was canceled")
	}
	return err
}
