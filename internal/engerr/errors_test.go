package engerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapAndUnwrap(t *testing.T) {
	cause := errors.New("disk exploded")
	err := New(IOError, "resource.Load", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "io_error")
	assert.Contains(t, err.Error(), "resource.Load")
}

func TestKindOfAndIs(t *testing.T) {
	err := New(ParseError, "index.Decode", nil)
	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, ParseError, kind)
	assert.True(t, Is(err, ParseError))
	assert.False(t, Is(err, IOError))
}

func TestKindOfRejectsUnrelatedError(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestFatalOnlyForProgrammingError(t *testing.T) {
	assert.True(t, ProgrammingError.Fatal())
	assert.False(t, IOError.Fatal())
	assert.False(t, HotReloadConflict.Fatal())
}
