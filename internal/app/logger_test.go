package app

import "testing"

import "github.com/stretchr/testify/require"

func TestConfigureLogging(t *testing.T) {
	require.NoError(t, ConfigureLogging("debug", "console"))
	require.NoError(t, ConfigureLogging("", ""))
}
