package common_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/juliana/internal/common"
)

func TestTerminalErrorMatchesKind(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("pay: %w", common.NewTerminalError(common.CodeOrderSubmitFailed, "Error with payment: timeout", cause))

	require.ErrorIs(t, err, common.ErrOrderSubmitFailed)
	require.NotErrorIs(t, err, common.ErrLookupFailed)
	require.ErrorIs(t, err, cause)
	require.Equal(t, common.CodeOrderSubmitFailed, common.CodeOf(err))
	require.Equal(t, "pay: Error with payment: timeout", err.Error())
}

func TestCodeOfPlainError(t *testing.T) {
	require.Empty(t, common.CodeOf(errors.New("boom")))
}
