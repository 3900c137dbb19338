package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError_UnwrapsToInvalidInput(t *testing.T) {
	err := NewValidationError("title", "must not be empty", "")

	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Contains(t, err.Error(), "title")
}

func TestMultiError(t *testing.T) {
	t.Run("empty is nil", func(t *testing.T) {
		var m MultiError
		assert.False(t, m.HasErrors())
		assert.NoError(t, m.ToError())
	})

	t.Run("nil adds ignored", func(t *testing.T) {
		var m MultiError
		m.Add(nil)
		assert.NoError(t, m.ToError())
	})

	t.Run("single error message passes through", func(t *testing.T) {
		var m MultiError
		m.Add(NewValidationError("title", "must not be empty", ""))

		err := m.ToError()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "title")
		assert.NotContains(t, err.Error(), "errors:")
	})

	t.Run("joins all messages", func(t *testing.T) {
		var m MultiError
		m.Add(NewValidationError("title", "must not be empty", ""))
		m.Add(NewValidationError("category", "must not be empty", ""))

		err := m.ToError()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "2 errors")
		assert.Contains(t, err.Error(), "title")
		assert.Contains(t, err.Error(), "category")
	})

	t.Run("errors.Is sees through the bundle", func(t *testing.T) {
		var m MultiError
		m.Add(NewValidationError("title", "must not be empty", ""))
		m.Add(Wrap(ErrNotFound, "lookup"))

		err := m.ToError()
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("errors.As extracts a field error", func(t *testing.T) {
		var m MultiError
		m.Add(NewValidationError("days", "must be positive", -1))

		var verr *ValidationError
		require.ErrorAs(t, m.ToError(), &verr)
		assert.Equal(t, "days", verr.Field)
	})
}
