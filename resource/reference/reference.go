// Package reference builds the reference graph: which struct fields
// name other resources, and which types may in turn reference a given
// target type. Grounded on the teacher's
// kernel/threads/registry/loader.go (ModuleRegistry.GetDependencyOrder
// and DependencySpec.Optional), whose Kahn's-algorithm dependency graph
// and optional-dependency flag are generalized here from inter-module
// load ordering to inter-resource reference tracking. Field discovery
// itself uses reflect.StructField and a `reference:"TypeName"` struct
// tag in place of the original reflection registry's custom attribute
// (that registry is an external collaborator, out of this module's
// scope per spec.md §1).
package reference

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/forge-engine/core/internal/identity"
)

// FieldKind classifies a referencer field.
type FieldKind int

const (
	// FieldLeaf: an interned string field carrying a `reference`
	// struct tag naming the target resource type directly.
	FieldLeaf FieldKind = iota
	// FieldTransitional: a nested struct (or slice/array of struct)
	// field whose target type transitively contains at least one leaf.
	FieldTransitional
)

// FieldInfo describes one referencer field on a registered type.
type FieldInfo struct {
	Field      string
	TargetType string
	Kind       FieldKind
	Optional   bool // carried the platform-optional struct tag
}

// DetectedRef is one occurrence of a reference found while walking an
// instance. Duplicates are preserved in traversal order.
type DetectedRef struct {
	Type     string
	Name     string
	Optional bool
}

const (
	tagReference        = "reference"
	tagPlatformOptional = "platform_optional"
)

var (
	mu               sync.Mutex
	registeredTypes  = map[string]reflect.Type{}
	referencerFields = map[string][]FieldInfo{}
	referencersOf    = map[string][]string{}
	built            bool
)

// Register records a struct type under name, to be scanned on the next
// Build call. sample may be a struct value or a pointer to one.
func Register(name string, sample any) error {
	mu.Lock()
	defer mu.Unlock()
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return fmt.Errorf("reference: %q: sample must be a struct, got %s", name, t.Kind())
	}
	if _, exists := registeredTypes[name]; exists {
		return fmt.Errorf("reference: type %q already registered", name)
	}
	registeredTypes[name] = t
	built = false
	return nil
}

var internedStringType = reflect.TypeOf(identity.String{})

func elemType(t reflect.Type) (reflect.Type, bool) {
	isCollection := false
	for t.Kind() == reflect.Slice || t.Kind() == reflect.Array || t.Kind() == reflect.Ptr {
		if t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
			isCollection = true
		}
		t = t.Elem()
	}
	return t, isCollection
}

// Build scans every registered type's fields and materializes
// referencer_fields and referencers_of. It must be called after all
// Register calls and before any DetectReferences call; it is
// idempotent and cheap to call again after registering more types.
func Build() error {
	mu.Lock()
	defer mu.Unlock()
	if built {
		return nil
	}

	referencerFields = map[string][]FieldInfo{}
	for name, t := range registeredTypes {
		var fields []FieldInfo
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			tagVal, hasTag := f.Tag.Lookup(tagReference)
			optional := f.Tag.Get(tagPlatformOptional) == "true"
			elem, _ := elemType(f.Type)

			switch {
			case hasTag && elem == internedStringType:
				fields = append(fields, FieldInfo{Field: f.Name, TargetType: tagVal, Kind: FieldLeaf, Optional: optional})
			case elem.Kind() == reflect.Struct:
				if targetName, ok := nameOfRegisteredType(elem); ok {
					fields = append(fields, FieldInfo{Field: f.Name, TargetType: targetName, Kind: FieldTransitional, Optional: optional})
				}
			}
		}
		referencerFields[name] = fields
	}

	// Drop transitional fields whose target type's closure contains no
	// leaf, per spec: a struct field is only a referencer field at all
	// when its target transitively contains leaves. Cycles (resource
	// cycles are permitted) break via the visited set, returning false
	// rather than recursing forever.
	for name, fields := range referencerFields {
		kept := fields[:0]
		for _, f := range fields {
			if f.Kind == FieldLeaf || typeContainsLeaf(f.TargetType, map[string]bool{}) {
				kept = append(kept, f)
			}
		}
		referencerFields[name] = kept
	}

	referencersOf = map[string][]string{}
	for name := range registeredTypes {
		targets := map[string]bool{}
		collectLeafTargets(name, targets, map[string]bool{})
		for target := range targets {
			referencersOf[target] = appendUnique(referencersOf[target], name)
		}
	}

	built = true
	return nil
}

func nameOfRegisteredType(t reflect.Type) (string, bool) {
	for name, rt := range registeredTypes {
		if rt == t {
			return name, true
		}
	}
	return "", false
}

func typeContainsLeaf(typeName string, visited map[string]bool) bool {
	if visited[typeName] {
		return false
	}
	visited[typeName] = true
	for i := 0; i < registeredTypes[typeName].NumField(); i++ {
		f := registeredTypes[typeName].Field(i)
		tagVal, hasTag := f.Tag.Lookup(tagReference)
		elem, _ := elemType(f.Type)
		if hasTag && elem == internedStringType {
			_ = tagVal
			return true
		}
		if elem.Kind() == reflect.Struct {
			if nested, ok := nameOfRegisteredType(elem); ok {
				if typeContainsLeaf(nested, visited) {
					return true
				}
			}
		}
	}
	return false
}

func collectLeafTargets(typeName string, targets map[string]bool, visited map[string]bool) {
	if visited[typeName] {
		return
	}
	visited[typeName] = true
	for _, f := range referencerFields[typeName] {
		if f.Kind == FieldLeaf {
			targets[f.TargetType] = true
		} else {
			collectLeafTargets(f.TargetType, targets, visited)
		}
	}
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// ReferencerFields returns the referencer-field table for typeName.
func ReferencerFields(typeName string) []FieldInfo {
	mu.Lock()
	defer mu.Unlock()
	return append([]FieldInfo(nil), referencerFields[typeName]...)
}

// ReferencersOf returns every registered type that may (directly or
// transitively) reference targetType.
func ReferencersOf(targetType string) []string {
	mu.Lock()
	defer mu.Unlock()
	return append([]string(nil), referencersOf[targetType]...)
}

// DetectReferences walks instance, guided by the referencer-field
// table for typeName, and returns every reference occurrence found, in
// traversal order with duplicates preserved.
func DetectReferences(typeName string, instance any) ([]DetectedRef, error) {
	mu.Lock()
	if !built {
		mu.Unlock()
		if err := Build(); err != nil {
			return nil, err
		}
		mu.Lock()
	}
	fields := append([]FieldInfo(nil), referencerFields[typeName]...)
	mu.Unlock()

	v := reflect.ValueOf(instance)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("reference: DetectReferences(%q): instance is not a struct", typeName)
	}

	var out []DetectedRef
	for _, f := range fields {
		fv := v.FieldByName(f.Field)
		if !fv.IsValid() {
			continue
		}
		refs, err := detectField(f, fv)
		if err != nil {
			return nil, err
		}
		out = append(out, refs...)
	}
	return out, nil
}

func detectField(f FieldInfo, fv reflect.Value) ([]DetectedRef, error) {
	switch fv.Kind() {
	case reflect.Slice, reflect.Array:
		var out []DetectedRef
		for i := 0; i < fv.Len(); i++ {
			refs, err := detectSingle(f, fv.Index(i))
			if err != nil {
				return nil, err
			}
			out = append(out, refs...)
		}
		return out, nil
	default:
		return detectSingle(f, fv)
	}
}

func detectSingle(f FieldInfo, fv reflect.Value) ([]DetectedRef, error) {
	for fv.Kind() == reflect.Ptr {
		if fv.IsNil() {
			return nil, nil
		}
		fv = fv.Elem()
	}

	if f.Kind == FieldLeaf {
		s, ok := fv.Interface().(identity.String)
		if !ok {
			return nil, fmt.Errorf("reference: field %q: expected identity.String, got %s", f.Field, fv.Type())
		}
		if s.Value() == "" {
			return nil, nil
		}
		return []DetectedRef{{Type: f.TargetType, Name: s.Value(), Optional: f.Optional}}, nil
	}

	nested, err := DetectReferences(f.TargetType, fv.Addr().Interface())
	if err != nil {
		return nil, err
	}
	if f.Optional {
		for i := range nested {
			nested[i].Optional = true
		}
	}
	return nested, nil
}

// Required reports, for a flattened list of detections targeting the
// same (type, name), whether the merged reference is required: false
// when every occurrence carried the platform-optional attribute, true
// when at least one did not, and true for an empty list (no occurrence
// carried the attribute).
func Required(refs []DetectedRef) bool {
	for _, r := range refs {
		if !r.Optional {
			return true
		}
	}
	return len(refs) == 0
}
