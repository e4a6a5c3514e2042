// Package wasmkernel runs the tile kernel as a WebAssembly module.
//
// A module is compiled once with Compile and instantiated once per worker;
// instantiation is the worker's one-time initialization. Each instance owns
// its linear memory, so instances never share state.
//
// The module exports its memory, output_ptr and output_cap describing the
// pixel output region, and calculate, which renders one tile into that
// region and returns the number of bytes written.
package wasmkernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/gogpu/fractile/internal/kernel"
)

// Option configures a Module.
type Option func(*Module)

// WithTimeout bounds each calculate call. A call that exceeds it is
// terminated, which closes the instance; the next call instantiates the
// module again.
func WithTimeout(d time.Duration) Option {
	return func(m *Module) {
		m.timeout = d
	}
}

// Module is a compiled kernel module.
type Module struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	timeout  time.Duration
}

// Compile compiles wasm and validates its exports.
func Compile(ctx context.Context, wasm []byte, opts ...Option) (*Module, error) {
	if len(wasm) == 0 {
		return nil, fmt.Errorf("%w: empty wasm", ErrKernelInternal)
	}

	m := &Module{}
	for _, opt := range opts {
		opt(m)
	}

	runtime := newRuntime(ctx)
	compiled, err := runtime.CompileModule(ctx, wasm)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("%w: compile: %w", ErrKernelInternal, err)
	}
	if err := validateExports(compiled); err != nil {
		_ = compiled.Close(ctx)
		_ = runtime.Close(ctx)
		return nil, err
	}

	m.runtime = runtime
	m.compiled = compiled
	return m, nil
}

// Close releases the runtime and every instance created from it.
func (m *Module) Close(ctx context.Context) error {
	if m == nil || m.runtime == nil {
		return nil
	}
	err := m.runtime.Close(ctx)
	m.runtime = nil
	m.compiled = nil
	return err
}

// Init instantiates the module as a kernel. It has the shape of a worker
// init function.
func (m *Module) Init(ctx context.Context) (kernel.Kernel, error) {
	return m.Instantiate(ctx)
}

// Instantiate creates an instance with its own memory and reads its output
// region.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	if m == nil || m.runtime == nil {
		return nil, fmt.Errorf("%w: module is closed", ErrKernelInternal)
	}

	mod, err := m.runtime.InstantiateModule(ctx, m.compiled, newModuleConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: instantiate: %w", ErrKernelInternal, err)
	}

	inst, err := newInstance(ctx, mod, m.timeout)
	if err != nil {
		_ = mod.Close(ctx)
		return nil, err
	}
	inst.module = m
	return inst, nil
}

// Instance is one instantiated kernel. It is safe for concurrent use, but
// calls are serialized.
//
// wazero closes an instance whose call is canceled or times out. The next
// Compute replaces it with a fresh instance of the same module and fails
// with kernel.ErrKernelLost only if that is impossible.
type Instance struct {
	mu      sync.Mutex
	module  *Module
	mod     api.Module
	mem     api.Memory
	calc    api.Function
	outPtr  int32
	outCap  int32
	timeout time.Duration
}

func newInstance(ctx context.Context, mod api.Module, timeout time.Duration) (*Instance, error) {
	mem := mod.ExportedMemory(ExportMemory)
	if mem == nil {
		return nil, missingExportError(ExportMemory)
	}
	calc := mod.ExportedFunction(ExportCalculate)
	if calc == nil {
		return nil, missingExportError(ExportCalculate)
	}

	ptr, err := callI32NoArgs(ctx, mod, ExportOutputPtr)
	if err != nil {
		return nil, err
	}
	capacity, err := callI32NoArgs(ctx, mod, ExportOutputCap)
	if err != nil {
		return nil, err
	}
	if err := validateRegion(mem.Size(), ptr, capacity, "output"); err != nil {
		return nil, err
	}

	return &Instance{
		mod:     mod,
		mem:     mem,
		calc:    calc,
		outPtr:  ptr,
		outCap:  capacity,
		timeout: timeout,
	}, nil
}

// Compute implements kernel.Kernel.
func (in *Instance) Compute(ctx context.Context, p kernel.Params) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if in.mod.IsClosed() {
		if err := in.reinstantiateLocked(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", kernel.ErrKernelLost, err)
		}
	}

	need := p.ByteSize()
	if need > int(in.outCap) {
		return nil, fmt.Errorf("%w: tile needs %d bytes, output_cap=%d", ErrOutOfBounds, need, in.outCap)
	}

	if in.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = WithExecutionTimeout(ctx, in.timeout)
		defer cancel()
	}

	gray := int32(0)
	if p.Grayscale {
		gray = 1
	}
	result, err := in.calc.Call(ctx,
		api.EncodeI32(int32(p.TileWidth)),
		api.EncodeI32(int32(p.TileHeight)),
		api.EncodeI32(int32(p.CanvasWidth)),
		api.EncodeI32(int32(p.CanvasHeight)),
		api.EncodeI32(int32(p.MaxIterations)),
		api.EncodeF64(float64(p.TileLeft)),
		api.EncodeF64(float64(p.TileTop)),
		api.EncodeF64(p.CenterX),
		api.EncodeF64(p.CenterY),
		api.EncodeF64(p.Scale),
		api.EncodeF64(p.Ratio),
		api.EncodeI32(int32(p.Power)),
		api.EncodeI32(gray),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: calculate: %w", ErrKernelInternal, HumanizeExecutionError(ctx, err))
	}
	if len(result) != 1 {
		return nil, fmt.Errorf("%w: calculate returned %d values", ErrKernelInternal, len(result))
	}

	written := api.DecodeI32(result[0])
	if written < 0 || written > in.outCap {
		return nil, fmt.Errorf("%w: calculate wrote %d bytes, output_cap=%d", ErrOutOfBounds, written, in.outCap)
	}
	if int(written) != need {
		return nil, fmt.Errorf("%w: calculate wrote %d bytes, want %d", ErrKernelInternal, written, need)
	}

	// Memory may have grown during the call; re-check the region.
	if err := validateRegion(in.mem.Size(), in.outPtr, written, "output"); err != nil {
		return nil, err
	}
	data, ok := in.mem.Read(uint32(in.outPtr), uint32(written))
	if !ok {
		return nil, fmt.Errorf("%w: output read failed", ErrOutOfBounds)
	}

	// data aliases linear memory and is overwritten by the next call.
	buf := kernel.GetBuffer(need)
	copy(buf, data)
	return buf, nil
}

// reinstantiateLocked replaces a closed module instance.
func (in *Instance) reinstantiateLocked(ctx context.Context) error {
	if in.module == nil {
		return fmt.Errorf("%w: instance is closed", ErrKernelInternal)
	}
	fresh, err := in.module.Instantiate(ctx)
	if err != nil {
		return err
	}
	in.mod, in.mem, in.calc = fresh.mod, fresh.mem, fresh.calc
	in.outPtr, in.outCap = fresh.outPtr, fresh.outCap
	return nil
}

// Close releases the instance.
func (in *Instance) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.module = nil
	return in.mod.Close(context.Background())
}

func callI32NoArgs(ctx context.Context, mod api.Module, name string) (int32, error) {
	fn := mod.ExportedFunction(name)
	if fn == nil {
		return 0, missingExportError(name)
	}
	result, err := fn.Call(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %s call failed", ErrKernelInternal, name)
	}
	if len(result) != 1 {
		return 0, fmt.Errorf("%w: %s returned %d values", ErrKernelInternal, name, len(result))
	}
	return api.DecodeI32(result[0]), nil
}
