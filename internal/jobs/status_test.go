package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{name: "queued to processing", from: StatusQueued, to: StatusProcessing, want: true},
		{name: "queued to cancelled", from: StatusQueued, to: StatusCancelled, want: true},
		{name: "queued cannot skip processing", from: StatusQueued, to: StatusDone, want: false},
		{name: "queued cannot error directly", from: StatusQueued, to: StatusError, want: false},
		{name: "processing to done", from: StatusProcessing, to: StatusDone, want: true},
		{name: "processing to error", from: StatusProcessing, to: StatusError, want: true},
		{name: "processing to cancelled", from: StatusProcessing, to: StatusCancelled, want: true},
		{name: "processing cannot regress", from: StatusProcessing, to: StatusQueued, want: false},
		{name: "done is final", from: StatusDone, to: StatusError, want: false},
		{name: "error is final", from: StatusError, to: StatusProcessing, want: false},
		{name: "cancelled is final", from: StatusCancelled, to: StatusQueued, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusQueued.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusDone.IsTerminal())
	assert.True(t, StatusError.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}

func TestStatus_IsValid(t *testing.T) {
	assert.True(t, StatusQueued.IsValid())
	assert.True(t, StatusCancelled.IsValid())
	assert.False(t, Status("PENDING").IsValid())
	assert.False(t, Status("").IsValid())
}

func TestVariant_IsValid(t *testing.T) {
	assert.True(t, VariantFast.IsValid())
	assert.True(t, VariantSlow.IsValid())
	assert.False(t, Variant("medium").IsValid())
}
