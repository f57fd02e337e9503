package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunMainReportsInvalidFlags(t *testing.T) {
	t.Setenv("CONFIGURE_AUTHORITY_PATH", "/keys/id.json")

	cases := map[string][]string{
		"no mints":     {"--number-of-mints", "0"},
		"unknown flag": {"--bogus"},
		"bad number":   {"-p", "many"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			var stderr bytes.Buffer
			require.Equal(t, 1, runMain(args, &stderr))
			require.Contains(t, stderr.String(), "configure failed")
		})
	}
}

func TestRunMainNamesTheRejectedValue(t *testing.T) {
	t.Setenv("CONFIGURE_AUTHORITY_PATH", "/keys/id.json")

	var stderr bytes.Buffer
	require.Equal(t, 1, runMain([]string{"--number-of-mints", "0"}, &stderr))
	require.Contains(t, stderr.String(), "number of mints")
}
