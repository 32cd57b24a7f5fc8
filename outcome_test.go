package redistasks_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redistasks/redistasks"
)

func TestNewFault(t *testing.T) {
	t.Parallel()

	t.Run("nil error yields nil fault", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, redistasks.NewFault(nil))
	})

	t.Run("captures kind and stack trace", func(t *testing.T) {
		t.Parallel()

		fault := redistasks.NewFault(&arithmeticError{msg: "overflow"})
		require.NotNil(t, fault)
		assert.Equal(t, "arithmeticError", fault.Kind)
		assert.NotEmpty(t, fault.Trace)
		assert.False(t, strings.HasSuffix(fault.Trace, "\n"))
	})

	t.Run("kind override wins over the type name", func(t *testing.T) {
		t.Parallel()

		fault := redistasks.NewFault(&redistasks.ResolutionError{FuncName: "a.b"})
		require.NotNil(t, fault)
		assert.Equal(t, "RuntimeError", fault.Kind)
	})

	t.Run("wrapped override still wins", func(t *testing.T) {
		t.Parallel()

		wrapped := fmt.Errorf("resolving: %w", &redistasks.ResolutionError{FuncName: "a.b"})
		fault := redistasks.NewFault(wrapped)
		require.NotNil(t, fault)
		assert.Equal(t, "RuntimeError", fault.Kind)
	})
}

func TestFault_Error(t *testing.T) {
	t.Parallel()

	inner := &arithmeticError{msg: "overflow"}
	fault := redistasks.NewFault(inner)

	assert.Equal(t, "arithmeticError: overflow", fault.Error())

	var target *arithmeticError
	require.ErrorAs(t, fault, &target)
	assert.Same(t, inner, target)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	t.Run("nil fault is success with empty message", func(t *testing.T) {
		t.Parallel()

		outcome := redistasks.Classify(nil)
		assert.Equal(t, redistasks.OutcomeSuccess, outcome.Kind)
		assert.Empty(t, outcome.Message)
	})

	t.Run("abort carries the literal reason", func(t *testing.T) {
		t.Parallel()

		outcome := redistasks.Classify(redistasks.NewFault(redistasks.Abort("input vanished")))
		assert.Equal(t, redistasks.OutcomeAborted, outcome.Kind)
		assert.Equal(t, "input vanished", outcome.Message)
	})

	t.Run("worker shutdown is an abort", func(t *testing.T) {
		t.Parallel()

		outcome := redistasks.Classify(redistasks.NewFault(&redistasks.WorkerShutdown{}))
		assert.Equal(t, redistasks.OutcomeAborted, outcome.Kind)
		assert.Equal(t, "Worker shutdown", outcome.Message)
	})

	t.Run("failure message ends with kind and detail", func(t *testing.T) {
		t.Parallel()

		outcome := redistasks.Classify(redistasks.NewFault(&arithmeticError{msg: "overflow"}))
		assert.Equal(t, redistasks.OutcomeFailed, outcome.Kind)

		lines := strings.Split(outcome.Message, "\n")
		assert.Equal(t, "arithmeticError: overflow", lines[len(lines)-1])
		assert.Greater(t, len(lines), 1, "failure message carries the captured trace")
	})

	t.Run("classification is repeatable", func(t *testing.T) {
		t.Parallel()

		fault := redistasks.NewFault(errors.New("boom"))
		assert.Equal(t, redistasks.Classify(fault), redistasks.Classify(fault))
	})
}

func TestIsAborted(t *testing.T) {
	t.Parallel()

	assert.True(t, redistasks.IsAborted(redistasks.Abort("gone")))
	assert.True(t, redistasks.IsAborted(&redistasks.WorkerShutdown{}))
	assert.False(t, redistasks.IsAborted(errors.New("boom")))
	assert.False(t, redistasks.IsAborted(nil))
}
