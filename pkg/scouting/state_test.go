package scouting

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_String(t *testing.T) {
	assert.Equal(t, "IDLE", StateIdle.String())
	assert.Equal(t, "DRAINING", StateDraining.String())
	assert.Equal(t, "ABORTED", StateAborted.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}

func TestIsAllowedTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateStreaming, true},
		{StateIdle, StateFinished, true},
		{StateIdle, StateDraining, false},
		{StateIdle, StateAborted, true},
		{StateStreaming, StateDraining, true},
		{StateStreaming, StateFinished, true},
		{StateStreaming, StateIdle, false},
		{StateStreaming, StateAborted, true},
		{StateDraining, StateFinished, true},
		{StateDraining, StateStreaming, false},
		{StateDraining, StateAborted, true},
		{StateFinished, StateAborted, false},
		{StateFinished, StateStreaming, false},
		{StateAborted, StateFinished, false},
		{StateAborted, StateAborted, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, isAllowedTransition(tt.from, tt.to))
		})
	}
}

func TestState_IsTerminal(t *testing.T) {
	assert.False(t, StateIdle.IsTerminal())
	assert.False(t, StateStreaming.IsTerminal())
	assert.False(t, StateDraining.IsTerminal())
	assert.True(t, StateFinished.IsTerminal())
	assert.True(t, StateAborted.IsTerminal())
}
