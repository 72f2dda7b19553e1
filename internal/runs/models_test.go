package runs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{"queued to running", StatusQueued, StatusRunning, false},
		{"queued to cancelled", StatusQueued, StatusCancelled, false},
		{"queued to succeeded", StatusQueued, StatusSucceeded, true},
		{"queued to failed", StatusQueued, StatusFailed, true},
		{"running to succeeded", StatusRunning, StatusSucceeded, false},
		{"running to failed", StatusRunning, StatusFailed, false},
		{"running to cancelled", StatusRunning, StatusCancelled, false},
		{"running to queued", StatusRunning, StatusQueued, true},
		{"succeeded is terminal", StatusSucceeded, StatusRunning, true},
		{"failed is terminal", StatusFailed, StatusRunning, true},
		{"cancelled is terminal", StatusCancelled, StatusRunning, true},
		{"same state", StatusRunning, StatusRunning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)

			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTransition))

				return
			}

			assert.NoError(t, err)
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusSucceeded.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestStatus_Valid(t *testing.T) {
	assert.True(t, StatusQueued.Valid())
	assert.True(t, StatusRunning.Valid())
	assert.True(t, StatusSucceeded.Valid())
	assert.True(t, StatusFailed.Valid())
	assert.True(t, StatusCancelled.Valid())
	assert.False(t, Status("BOGUS").Valid())
	assert.False(t, Status("").Valid())
}
