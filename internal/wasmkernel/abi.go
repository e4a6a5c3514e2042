package wasmkernel

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Exports a kernel module must provide.
const (
	ExportMemory    = "memory"
	ExportOutputPtr = "output_ptr"
	ExportOutputCap = "output_cap"
	ExportCalculate = "calculate"
)

var (
	ErrMissingExport  = errors.New("wasmkernel: missing export")
	ErrOutOfBounds    = errors.New("wasmkernel: out of bounds")
	ErrKernelInternal = errors.New("wasmkernel: kernel internal")
)

type signature struct {
	params  []api.ValueType
	results []api.ValueType
}

var (
	i32 = api.ValueTypeI32
	f64 = api.ValueTypeF64
)

// calculate(tile_w, tile_h, canvas_w, canvas_h, max_iter,
// tile_left, tile_top, mid_x, mid_y, scale, ratio, power, grayscale) -> written
func requiredSignatures() map[string]signature {
	return map[string]signature{
		ExportOutputPtr: {results: []api.ValueType{i32}},
		ExportOutputCap: {results: []api.ValueType{i32}},
		ExportCalculate: {
			params:  []api.ValueType{i32, i32, i32, i32, i32, f64, f64, f64, f64, f64, f64, i32, i32},
			results: []api.ValueType{i32},
		},
	}
}

func missingExportError(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingExport, name)
}

func validateExports(compiled wazero.CompiledModule) error {
	if _, ok := compiled.ExportedMemories()[ExportMemory]; !ok {
		return missingExportError(ExportMemory)
	}

	funcs := compiled.ExportedFunctions()
	for name, sig := range requiredSignatures() {
		def, ok := funcs[name]
		if !ok {
			return missingExportError(name)
		}
		if !signatureMatches(def.ParamTypes(), sig.params) || !signatureMatches(def.ResultTypes(), sig.results) {
			return fmt.Errorf("%w: %s invalid signature want %s got %s", ErrMissingExport, name,
				formatSignature(sig.params, sig.results), formatSignature(def.ParamTypes(), def.ResultTypes()))
		}
	}
	return nil
}

func signatureMatches(got, want []api.ValueType) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func formatSignature(params, results []api.ValueType) string {
	return "(" + formatTypes(params) + ") -> (" + formatTypes(results) + ")"
}

func formatTypes(types []api.ValueType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = api.ValueTypeName(t)
	}
	return strings.Join(names, ", ")
}

func validateRegion(memorySize uint32, ptr, length int32, field string) error {
	if ptr < 0 || length < 0 {
		return fmt.Errorf("%w: %s ptr=%d len=%d", ErrOutOfBounds, field, ptr, length)
	}
	end := uint64(ptr) + uint64(length)
	if end > uint64(memorySize) {
		return fmt.Errorf("%w: %s ptr=%d len=%d memory_size=%d", ErrOutOfBounds, field, ptr, length, memorySize)
	}
	return nil
}
