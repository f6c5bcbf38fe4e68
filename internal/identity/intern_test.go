package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInternIdentity(t *testing.T) {
	a1 := Intern("alpha")
	a2 := Intern("alpha")
	b := Intern("beta")

	require.NotNil(t, a1)
	assert.True(t, a1.Equal(a2), "two interns of the same content must be pointer-equal")
	assert.False(t, a1.Equal(b))
	assert.Equal(t, "alpha", a1.Value())
}

func TestInternConcurrent(t *testing.T) {
	const n = 64
	results := make(chan *String, n)
	for i := 0; i < n; i++ {
		go func() { results <- Intern("shared") }()
	}
	first := <-results
	for i := 1; i < n; i++ {
		assert.True(t, first.Equal(<-results))
	}
}

func TestIDSentinel(t *testing.T) {
	type marker struct{}
	var id ID[marker]
	assert.False(t, id.IsValid())

	var gen Generator[marker]
	first := gen.Next()
	assert.True(t, first.IsValid())
	assert.NotEqual(t, ID[marker](Invalid), first)
}

func TestHandle(t *testing.T) {
	type state struct{ n int }
	s := &state{n: 7}
	h := NewHandle(s)
	require.True(t, h.Valid())
	assert.Equal(t, 7, h.Get().n)

	var empty Handle[state]
	assert.False(t, empty.Valid())
}
