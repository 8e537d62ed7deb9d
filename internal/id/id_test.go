package id

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNewRunIDIsTimeOrdered(t *testing.T) {
	t.Parallel()

	first, err := NewRunID()
	require.NoError(t, err)
	second, err := NewRunID()
	require.NoError(t, err)

	require.Equal(t, uuid.Version(7), first.Version())
	require.NotEqual(t, first, second)
	require.Less(t, first.String(), second.String())
}
