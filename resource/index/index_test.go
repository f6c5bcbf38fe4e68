package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInferEntryClassifiesByExtension(t *testing.T) {
	e := InferEntry("materials/brick_wall.bin")
	assert.Equal(t, "brick_wall", e.Name)
	assert.Equal(t, KindNativeBinary, e.Kind)

	e = InferEntry("configs/player.yaml")
	assert.Equal(t, "player", e.Name)
	assert.Equal(t, KindNativeReadable, e.Kind)

	e = InferEntry("vendor/font.ttf")
	assert.Equal(t, "font", e.Name)
	assert.Equal(t, KindThirdPartyBytes, e.Kind)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	idx := &Index{
		Types: []TypeEntries{
			{
				Type: "Texture",
				Entries: []Entry{
					{Name: "brick_wall", RelativePath: "textures/brick_wall.bin", Kind: KindNativeBinary},
					{Name: "grass", RelativePath: "textures/grass.bin", Kind: KindNativeBinary},
				},
			},
			{
				Type: "Material",
				Entries: []Entry{
					{Name: "default", RelativePath: "materials/default.yaml", Kind: KindNativeReadable},
				},
			},
		},
		ThirdParty: []Entry{
			{Name: "roboto", RelativePath: "vendor/roboto.ttf", Size: 204800, Kind: KindThirdPartyBytes},
		},
	}

	b := Marshal(idx)
	require.NotEmpty(t, b)

	got, err := Unmarshal(b)
	require.NoError(t, err)
	require.Len(t, got.Types, 2)

	e, ok := got.Lookup("Texture", "brick_wall")
	require.True(t, ok)
	assert.Equal(t, "textures/brick_wall.bin", e.RelativePath)

	e, ok = got.Lookup("Material", "default")
	require.True(t, ok)
	assert.Equal(t, KindNativeReadable, e.Kind)

	require.Len(t, got.ThirdParty, 1)
	assert.Equal(t, int64(204800), got.ThirdParty[0].Size)
}

func TestLookupMissReturnsFalse(t *testing.T) {
	idx := &Index{}
	_, ok := idx.Lookup("Texture", "nope")
	assert.False(t, ok)
}

func TestIDString(t *testing.T) {
	id := ID{Type: "Texture", Name: "brick_wall"}
	assert.Equal(t, "Texture:brick_wall", id.String())
}
