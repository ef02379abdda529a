package reminder

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgumentErrorMatchesKind(t *testing.T) {
	err := fmt.Errorf("wrap: %w", InvalidArgument("pet_id", "must not be empty"))

	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.NotErrorIs(t, err, ErrFormat)
	assert.Equal(t, "pet_id", ParamOf(err))
	assert.Contains(t, err.Error(), "pet_id")
	assert.Contains(t, err.Error(), "must not be empty")
}

func TestArgumentErrorUnwrapsCause(t *testing.T) {
	cause := &FormatError{Input: "9:00", Expected: "HH:mm"}
	err := &ArgumentError{Param: "time_slot", Reason: "malformed", Err: cause}

	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, err, ErrFormat)

	var fe *FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "9:00", fe.Input)
}

func TestParamOfOtherErrors(t *testing.T) {
	assert.Equal(t, "", ParamOf(errors.New("boom")))
	assert.Equal(t, "", ParamOf(nil))
}
