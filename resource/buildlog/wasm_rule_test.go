package buildlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// identityWasmModule is a hand-assembled minimal WebAssembly module
// exporting a single function "build(i32) -> i32" that returns its
// argument unchanged. It exists so WasmBuildRule has a real module to
// compile and invoke in tests, without depending on an external .wasm
// fixture or a WASM toolchain.
var identityWasmModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // magic "\0asm"
	0x01, 0x00, 0x00, 0x00, // version 1

	// type section: one func type (i32) -> i32
	0x01, 0x06, 0x01, 0x60, 0x01, 0x7f, 0x01, 0x7f,

	// function section: one function using type 0
	0x03, 0x02, 0x01, 0x00,

	// export section: export func 0 as "build"
	0x07, 0x09, 0x01, 0x05, 0x62, 0x75, 0x69, 0x6c, 0x64, 0x00, 0x00,

	// code section: local.get 0; end
	0x0a, 0x06, 0x01, 0x04, 0x00, 0x20, 0x00, 0x0b,
}

func TestWasmBuildRuleDispatchesThroughPlanner(t *testing.T) {
	loadPrimary := func(e RawEntry) ([]byte, error) { return []byte("hello"), nil }
	rule := NewWasmBuildRule("wasm_identity", 1, "Blob", identityWasmModule, "build", "out", loadPrimary)

	target := &TargetLog{Name: "blobs"}
	scanned := []RawEntry{{Name: "greeting", TypeVersion: 1, FileVersion: 1}}

	tasks, err := Plan(target, scanned, []BuildRule{rule}, nil, alwaysMissing, nil)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "wasm_identity", tasks[0].Rule.Name())

	log := NewLog()
	require.NoError(t, Execute(target, log, tasks))
	require.Len(t, target.Built, 1)

	built := target.Built[0]
	assert.Equal(t, "greeting", built.Name)
	assert.Equal(t, "out", built.SavedDirectory)
	assert.Equal(t, uint64(len("hello")), built.OutputFileVersion, "build() returns len(input) unchanged")
	require.Len(t, built.SecondaryInputs, 1)
	assert.Equal(t, "greeting.wasm_intermediate", built.SecondaryInputs[0].Name)
}

func TestWasmBuildRuleDependsOnSetsOrdering(t *testing.T) {
	rule := NewWasmBuildRule("wasm_post", 1, "Blob", identityWasmModule, "build", "out", nil).
		DependsOn("wasm_pre")
	assert.Equal(t, []string{"wasm_pre"}, rule.DependsOnRules())
}

func TestWasmBuildRuleReportsMissingExport(t *testing.T) {
	loadPrimary := func(e RawEntry) ([]byte, error) { return []byte("x"), nil }
	rule := NewWasmBuildRule("wasm_bad_export", 1, "Blob", identityWasmModule, "not_exported", "out", loadPrimary)

	_, err := rule.Build(newBuildContext(), RawEntry{Name: "x", TypeVersion: 1, FileVersion: 1})
	assert.Error(t, err)
}
