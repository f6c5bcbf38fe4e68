// Package index implements resource identity and the on-disk index: a
// serialized structure enumerating, per type, the {name, relative
// path} pairs a build produced, plus a separate third-party list
// carrying file sizes. Grounded on the teacher's
// kernel/threads/registry/loader.go EnhancedModuleEntry, a fixed binary
// record the registry reads back at load time — generalized here from
// a single SharedArrayBuffer offset table to a flat serialized file.
// The wire format uses google.golang.org/protobuf's low-level
// varint/length-delimited primitives (protowire) directly rather than
// a generated message type, since no protoc toolchain ran to produce
// one; the field numbering below is the hand-maintained "schema."
package index

import (
	"fmt"
	"path/filepath"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// Kind classifies how a resource's payload should be loaded.
type Kind int

const (
	KindNativeBinary Kind = iota
	KindNativeReadable
	KindThirdPartyBytes
)

func (k Kind) String() string {
	switch k {
	case KindNativeBinary:
		return "native_binary"
	case KindNativeReadable:
		return "native_readable"
	case KindThirdPartyBytes:
		return "third_party_bytes"
	default:
		return "unknown"
	}
}

// nativeBinaryExts and nativeReadableExts classify a resource payload
// purely from its file extension; anything else falls back to
// third-party-bytes, matching the "infers... whether the payload is
// native-binary, native-readable, or third-party-bytes" contract.
var (
	nativeBinaryExts   = map[string]bool{".bin": true, ".rbin": true}
	nativeReadableExts = map[string]bool{".json": true, ".yaml": true, ".yml": true, ".toml": true}
)

// ID canonically addresses a resource by (type, name).
type ID struct {
	Type string
	Name string
}

func (id ID) String() string { return id.Type + ":" + id.Name }

// Entry is one {name, relative_path} pair, or for a third-party item
// {name, relative_path, size}.
type Entry struct {
	Name         string
	RelativePath string
	Size         int64 // only meaningful for third-party entries
	Kind         Kind
}

// InferEntry derives a resource's name and kind from a file path: name
// is the basename minus extension, kind follows the extension table
// above.
func InferEntry(relativePath string) Entry {
	base := filepath.Base(relativePath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)

	kind := KindThirdPartyBytes
	switch {
	case nativeBinaryExts[ext]:
		kind = KindNativeBinary
	case nativeReadableExts[ext]:
		kind = KindNativeReadable
	}
	return Entry{Name: name, RelativePath: relativePath, Kind: kind}
}

// TypeEntries holds every resource entry registered for one resource
// type.
type TypeEntries struct {
	Type    string
	Entries []Entry
}

// Index is the full disk index for one build target: entries grouped
// per type, plus a flat third-party list.
type Index struct {
	Types      []TypeEntries
	ThirdParty []Entry
}

// Lookup returns the entry for (typ, name), if present.
func (idx *Index) Lookup(typ, name string) (Entry, bool) {
	for _, t := range idx.Types {
		if t.Type != typ {
			continue
		}
		for _, e := range t.Entries {
			if e.Name == name {
				return e, true
			}
		}
	}
	return Entry{}, false
}

// Wire field numbers for the hand-maintained index schema.
const (
	fieldTypeName    = 1
	fieldTypeEntries = 2
	fieldThirdParty  = 3

	fieldEntryName = 1
	fieldEntryPath = 2
	fieldEntrySize = 3
	fieldEntryKind = 4
)

// Marshal encodes idx into the on-disk wire format.
func Marshal(idx *Index) []byte {
	var b []byte
	for _, t := range idx.Types {
		var typeMsg []byte
		typeMsg = protowire.AppendTag(typeMsg, fieldTypeName, protowire.BytesType)
		typeMsg = protowire.AppendString(typeMsg, t.Type)
		for _, e := range t.Entries {
			entryBytes := marshalEntry(e)
			typeMsg = protowire.AppendTag(typeMsg, fieldTypeEntries, protowire.BytesType)
			typeMsg = protowire.AppendBytes(typeMsg, entryBytes)
		}
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, typeMsg)
	}
	for _, e := range idx.ThirdParty {
		entryBytes := marshalEntry(e)
		b = protowire.AppendTag(b, fieldThirdParty, protowire.BytesType)
		b = protowire.AppendBytes(b, entryBytes)
	}
	return b
}

func marshalEntry(e Entry) []byte {
	var m []byte
	m = protowire.AppendTag(m, fieldEntryName, protowire.BytesType)
	m = protowire.AppendString(m, e.Name)
	m = protowire.AppendTag(m, fieldEntryPath, protowire.BytesType)
	m = protowire.AppendString(m, e.RelativePath)
	m = protowire.AppendTag(m, fieldEntrySize, protowire.VarintType)
	m = protowire.AppendVarint(m, uint64(e.Size))
	m = protowire.AppendTag(m, fieldEntryKind, protowire.VarintType)
	m = protowire.AppendVarint(m, uint64(e.Kind))
	return m
}

// Unmarshal decodes b into an Index.
func Unmarshal(b []byte) (*Index, error) {
	idx := &Index{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("index: malformed tag")
		}
		b = b[n:]
		switch num {
		case 1:
			if typ != protowire.BytesType {
				return nil, fmt.Errorf("index: type entry: wrong wire type")
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("index: type entry: malformed bytes")
			}
			b = b[n:]
			te, err := unmarshalTypeEntries(v)
			if err != nil {
				return nil, err
			}
			idx.Types = append(idx.Types, te)
		case fieldThirdParty:
			if typ != protowire.BytesType {
				return nil, fmt.Errorf("index: third-party entry: wrong wire type")
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("index: third-party entry: malformed bytes")
			}
			b = b[n:]
			e, err := unmarshalEntry(v)
			if err != nil {
				return nil, err
			}
			idx.ThirdParty = append(idx.ThirdParty, e)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("index: unknown field: malformed value")
			}
			b = b[n:]
		}
	}
	return idx, nil
}

func unmarshalTypeEntries(b []byte) (TypeEntries, error) {
	var te TypeEntries
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return te, fmt.Errorf("index: type block: malformed tag")
		}
		b = b[n:]
		switch num {
		case fieldTypeName:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return te, fmt.Errorf("index: type name: malformed string")
			}
			te.Type = v
			b = b[n:]
		case fieldTypeEntries:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return te, fmt.Errorf("index: type entries: malformed bytes")
			}
			b = b[n:]
			e, err := unmarshalEntry(v)
			if err != nil {
				return te, err
			}
			te.Entries = append(te.Entries, e)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return te, fmt.Errorf("index: type block: unknown field malformed")
			}
			b = b[n:]
		}
	}
	return te, nil
}

func unmarshalEntry(b []byte) (Entry, error) {
	var e Entry
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return e, fmt.Errorf("index: entry: malformed tag")
		}
		b = b[n:]
		switch num {
		case fieldEntryName:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return e, fmt.Errorf("index: entry name: malformed string")
			}
			e.Name = v
			b = b[n:]
		case fieldEntryPath:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return e, fmt.Errorf("index: entry path: malformed string")
			}
			e.RelativePath = v
			b = b[n:]
		case fieldEntrySize:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return e, fmt.Errorf("index: entry size: malformed varint")
			}
			e.Size = int64(v)
			b = b[n:]
		case fieldEntryKind:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return e, fmt.Errorf("index: entry kind: malformed varint")
			}
			e.Kind = Kind(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return e, fmt.Errorf("index: entry: unknown field malformed")
			}
			b = b[n:]
		}
	}
	return e, nil
}
