package optimization

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"message only", NewError("bad bound"), "bad bound"},
		{"with op", NewError("bad bound").WithOperation("optimize"), "optimize: bad bound"},
		{"with component", NewError("bad bound").WithComponent("hillclimb"), "hillclimb: bad bound"},
		{
			"full",
			&Error{Component: "hillclimb", Op: "new", Message: "acceleration 0", Err: ErrInvalidAcceleration},
			"hillclimb: new: acceleration 0: acceleration must be a positive finite number",
		},
		{"cause only", &Error{Err: ErrNilScorer}, "scorer is nil"},
		{"nil", nil, "<nil>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil, "ignored"))
	assert.Nil(t, WrapErrorf(nil, "ignored %d", 1))

	err := WrapErrorf(ErrNilParams, "restart %d", 3)
	assert.Equal(t, "restart 3: parameter vector is nil", err.Error())
	assert.ErrorIs(t, err, ErrNilParams)
	assert.Equal(t, ErrNilParams, err.Unwrap())
}

func TestIsOptimizationError(t *testing.T) {
	inner := NewErrorf("bound %d is empty", 2).WithComponent("hillclimb")
	wrapped := fmt.Errorf("job failed: %w", inner)

	got, ok := IsOptimizationError(wrapped)
	assert.True(t, ok)
	assert.Same(t, inner, got)

	got, ok = IsOptimizationError(errors.New("plain"))
	assert.False(t, ok)
	assert.Nil(t, got)
}
