package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openbook-dex/openbook-v2-simulation/internal/config"
)

func defaultConfig() config.ConfigureConfig {
	return config.ConfigureConfig{
		RPCURL:             "http://127.0.0.1:8899",
		AuthorityPath:      "/keys/id.json",
		ProgramsPath:       "configure/programs.json",
		NbPayers:           10,
		BalancePerPayerSOL: 1,
		NbMints:            10,
		OrdersPerSide:      10,
		UserBatchSize:      10,
		OutputFile:         "configure/config.json",
	}
}

func execute(t *testing.T, args ...string) (config.ConfigureConfig, error) {
	t.Helper()
	cfg := defaultConfig()
	var got config.ConfigureConfig
	cmd := newRootCommand(&cfg, func(c config.ConfigureConfig) error {
		got = c
		return nil
	})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return got, err
}

func TestFlagsKeepLoadedDefaults(t *testing.T) {
	got, err := execute(t)
	require.NoError(t, err)
	require.Equal(t, defaultConfig(), got)
}

func TestShortFlagsOverrideConfig(t *testing.T) {
	got, err := execute(t,
		"-u", "http://validator:8899",
		"-p", "3",
		"-b", "0.5",
		"-m", "4",
		"-n", "7",
		"-s",
		"-o", "/tmp/out.json",
	)
	require.NoError(t, err)
	require.Equal(t, "http://validator:8899", got.RPCURL)
	require.Equal(t, 3, got.NbPayers)
	require.Equal(t, 0.5, got.BalancePerPayerSOL)
	require.Equal(t, 4, got.NbMints)
	require.Equal(t, 7, got.OrdersPerSide)
	require.True(t, got.SkipProgramDeployment)
	require.Equal(t, "/tmp/out.json", got.OutputFile)
	require.False(t, got.ProgramsPathExplicit)
}

func TestProgramsFlagMarksRegistryExplicit(t *testing.T) {
	got, err := execute(t, "--programs", "/etc/programs.json", "--ws-url", "ws://validator:8900")
	require.NoError(t, err)
	require.Equal(t, "/etc/programs.json", got.ProgramsPath)
	require.True(t, got.ProgramsPathExplicit)
	require.Equal(t, "ws://validator:8900", got.WSURL)
}

func TestInvalidFlagsAreRejected(t *testing.T) {
	_, err := execute(t, "--number-of-mints", "0")
	require.ErrorIs(t, err, config.ErrInvalid)
}
