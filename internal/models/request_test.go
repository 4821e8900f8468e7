package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionGraph(t *testing.T) {
	legal := []struct{ from, to RequestState }{
		{StatePending, StateApproved},
		{StatePending, StateRejected},
		{StateApproved, StateAssigned},
		{StateAssigned, StateInProgress},
		{StateInProgress, StateInReview},
		{StateInReview, StateCompleted},
	}
	for _, edge := range legal {
		require.True(t, CanTransition(edge.from, edge.to), "%s -> %s must be legal", edge.from, edge.to)
	}

	illegal := []struct{ from, to RequestState }{
		{StatePending, StateCompleted},
		{StatePending, StateAssigned},
		{StateApproved, StatePending},
		{StateRejected, StateApproved},
		{StateCompleted, StateInReview},
		{StateSuperseded, StatePending},
		{StateInReview, StateInProgress},
	}
	for _, edge := range illegal {
		require.False(t, CanTransition(edge.from, edge.to), "%s -> %s must be rejected", edge.from, edge.to)
	}
}

func TestTerminalStates(t *testing.T) {
	require.True(t, StateRejected.Terminal())
	require.True(t, StateCompleted.Terminal())
	require.True(t, StateSuperseded.Terminal())
	require.False(t, StatePending.Terminal())
	require.False(t, StateInReview.Terminal())
}

func TestValidStateAndCategory(t *testing.T) {
	require.True(t, ValidState(StateInProgress))
	require.False(t, ValidState("SHIPPED"))
	require.True(t, ValidCategory(CategoryCleaning))
	require.False(t, ValidCategory("PLUMBING"))
}
