package backend

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBuildsNullDriver(t *testing.T) {
	d, err := New("null", "anything")
	require.NoError(t, err)
	require.False(t, d.IsConnected(nil))
}

func TestNewRejectsUnknownKind(t *testing.T) {
	_, err := New("does-not-exist", "anything")
	require.Error(t, err)
}

func TestRegisterAddsKind(t *testing.T) {
	Register("test-echo", func(address string) (Driver, error) {
		return NullDriver{}, nil
	})
	d, err := New("test-echo", "addr")
	require.NoError(t, err)
	require.NotNil(t, d)
}
