package terminal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInputStroke(t *testing.T) {
	var in Input
	require.False(t, in.Stroke("0"), "leading zero")
	require.False(t, in.Stroke("x"))
	require.False(t, in.Stroke("12"))
	for _, d := range []string{"1", "0", "2", "3", "4", "5"} {
		require.True(t, in.Stroke(d))
	}
	require.False(t, in.Stroke("6"), "capped")
	require.Equal(t, "102345", in.Prompt())
	require.Equal(t, 102345, in.Read())
}

func TestInputLatchRunsOnReset(t *testing.T) {
	var in Input
	var got []int
	in.Latch(func(q int) { got = append(got, q) })
	in.Reset()
	require.Equal(t, []int{1}, got, "empty prompt reads as one")

	in.Stroke("4")
	in.Latch(func(q int) { got = append(got, q) })
	in.Reset()
	require.Equal(t, []int{1, 4}, got)
	require.Empty(t, in.Prompt())

	in.Reset()
	require.Len(t, got, 2)
}

func TestInputDiscard(t *testing.T) {
	var in Input
	ran := false
	in.Stroke("3")
	in.Latch(func(int) { ran = true })
	in.Discard()
	in.Reset()
	require.False(t, ran)
	require.Empty(t, in.Prompt())
}

func TestStateText(t *testing.T) {
	text, err := Paying.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "PAYING", string(text))
	require.Equal(t, "State(9)", State(9).String())
}
