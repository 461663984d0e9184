package planerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsIs(t *testing.T) {
	err := fmt.Errorf("compile: %w", PropertyNotFound("Nmae", "Customer/Nmae"))
	assert.True(t, errors.Is(err, ErrPropertyNotFound))
	assert.False(t, errors.Is(err, ErrJoinPathNotFound))

	var pe *Error
	assert.True(t, errors.As(err, &pe))
	assert.Equal(t, "Nmae", pe.Name)
}

func TestErrorMessage(t *testing.T) {
	err := UnsupportedFunction("geo.distance", "no such function")
	assert.Equal(t, `unsupported function (name="geo.distance", node=function-call): no such function`, err.Error())

	err = CursorArity(1, 2)
	assert.Equal(t, "skip token does not match ordering: got 1 values, ordering has 2 fields", err.Error())
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "none", Label(nil))
	assert.Equal(t, "cursor_arity", Label(fmt.Errorf("page: %w", CursorArity(1, 2))))
	assert.Equal(t, "empty_ordering", Label(EmptyOrdering()))
	assert.Equal(t, "internal", Label(errors.New("boom")))
}
