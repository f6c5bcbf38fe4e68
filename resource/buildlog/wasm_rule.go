package buildlog

import (
	"fmt"

	"github.com/wasmerio/wasmer-go/wasmer"
)

// WasmBuildRule is a BuildRule whose transform is a WebAssembly module
// exporting a single `build` function. Grounded on the teacher's
// wasm/executor.go, which instantiated a wasmer-go module and invoked
// an exported function by name; generalized here from a standalone
// demo executor into one concrete build-rule implementation so the
// planner can schedule WASM-backed transforms alongside native ones.
type WasmBuildRule struct {
	name            string
	version         uint64
	primaryType     string
	dependsOn       []string
	moduleBytes     []byte
	exportedFunc    string
	savedDirectory  string
	loadPrimaryFunc func(RawEntry) ([]byte, error)
}

// NewWasmBuildRule constructs a rule that runs module's exportedFunc
// against each primary input's bytes (produced by loadPrimary).
func NewWasmBuildRule(name string, version uint64, primaryType string, module []byte, exportedFunc, savedDirectory string, loadPrimary func(RawEntry) ([]byte, error)) *WasmBuildRule {
	return &WasmBuildRule{
		name:            name,
		version:         version,
		primaryType:     primaryType,
		moduleBytes:     module,
		exportedFunc:    exportedFunc,
		savedDirectory:  savedDirectory,
		loadPrimaryFunc: loadPrimary,
	}
}

func (r *WasmBuildRule) Name() string              { return r.name }
func (r *WasmBuildRule) Version() uint64           { return r.version }
func (r *WasmBuildRule) PrimaryInputType() string  { return r.primaryType }
func (r *WasmBuildRule) DependsOnRules() []string  { return r.dependsOn }

// DependsOn declares other rule names this rule's secondary inputs may
// come from, used only for planner ordering.
func (r *WasmBuildRule) DependsOn(names ...string) *WasmBuildRule {
	r.dependsOn = names
	return r
}

// Build instantiates the WASM module fresh per invocation (wasmer-go
// instances are not safe to share across concurrent builds) and calls
// its exported build function, passing the primary input's length as
// the sole argument — the minimal contract a transform needs to read
// its own input via an imported memory-access function, which real
// build rules would supply through an import object.
func (r *WasmBuildRule) Build(ctx *BuildContext, primary RawEntry) (*BuiltEntry, error) {
	input, err := r.loadPrimaryFunc(primary)
	if err != nil {
		return nil, fmt.Errorf("wasm rule %s: load primary %s: %w", r.name, primary.Name, err)
	}

	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)
	module, err := wasmer.NewModule(store, r.moduleBytes)
	if err != nil {
		return nil, fmt.Errorf("wasm rule %s: compile module: %w", r.name, err)
	}
	importObject := wasmer.NewImportObject()
	instance, err := wasmer.NewInstance(module, importObject)
	if err != nil {
		return nil, fmt.Errorf("wasm rule %s: instantiate: %w", r.name, err)
	}
	defer instance.Close()

	fn, err := instance.Exports.GetFunction(r.exportedFunc)
	if err != nil {
		return nil, fmt.Errorf("wasm rule %s: missing export %q: %w", r.name, r.exportedFunc, err)
	}
	result, err := fn(int32(len(input)))
	if err != nil {
		return nil, fmt.Errorf("wasm rule %s: invoke %q: %w", r.name, r.exportedFunc, err)
	}

	outputVersion := uint64(0)
	if v, ok := result.(int32); ok {
		outputVersion = uint64(v)
	}

	ctx.ProduceSecondaryOutput(primary.Name+".wasm_intermediate", r.version)

	return &BuiltEntry{
		Name:                primary.Name,
		TypeVersion:         primary.TypeVersion,
		BuildRuleVersion:     r.version,
		PrimaryInputName:    primary.Name,
		PrimaryInputVersion: primary.FileVersion,
		SavedDirectory:      r.savedDirectory,
		OutputFileVersion:   outputVersion,
	}, nil
}
