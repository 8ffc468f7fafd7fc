package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransient(t *testing.T) {
	base := errors.New("connection reset")

	assert.Nil(t, Transient(nil))
	assert.False(t, IsTransient(base))

	err := fmt.Errorf("query posts: %w", Transient(base))
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, base)

	// 重复包装不叠加
	twice := Transient(Transient(base))
	assert.Equal(t, "transient: connection reset", twice.Error())
}

func TestCascadeError(t *testing.T) {
	boom := errors.New("boom")
	err := &CascadeError{
		RootID: "p1",
		Failures: []StepFailure{
			{Step: StepComments, ID: "c1", Err: boom},
			{Step: StepComments, ID: "c2", Err: ErrNotFound},
			{Step: StepLikes, ID: "l1", Err: boom},
		},
	}

	assert.Equal(t, []string{StepComments, StepLikes}, err.FailedSteps())
	assert.Contains(t, err.Error(), "p1")
	assert.Contains(t, err.Error(), "[comments, likes]")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrNotFound)

	var ce *CascadeError
	assert.True(t, errors.As(fmt.Errorf("delete: %w", err), &ce))
}
