package main

import (
	"github.com/spf13/cobra"

	"github.com/openbook-dex/openbook-v2-simulation/internal/config"
)

// newRootCommand binds the command line onto cfg, using the loaded values as
// flag defaults, then hands the result to runFn.
func newRootCommand(cfg *config.ConfigureConfig, runFn func(config.ConfigureConfig) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "configure",
		Short:         "Configure a new openbook-v2 test instance",
		Long:          "Create mints, markets and funded users with resting orders on a cluster, then write every address and key to a JSON file.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("programs") {
				cfg.ProgramsPathExplicit = true
			}
			if cmd.Flags().Changed("authority") {
				expanded, err := config.ExpandAuthorityPath(cfg.AuthorityPath)
				if err != nil {
					return err
				}
				cfg.AuthorityPath = expanded
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runFn(*cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&cfg.RPCURL, "url", "u", cfg.RPCURL, "RPC url")
	flags.StringVar(&cfg.WSURL, "ws-url", cfg.WSURL, "Websocket url used to confirm transactions; polling when empty")
	flags.StringVarP(&cfg.AuthorityPath, "authority", "a", cfg.AuthorityPath, "Authority keypair file")
	flags.IntVarP(&cfg.NbPayers, "number-of-payers", "p", cfg.NbPayers, "Number of payers used for testing")
	flags.Float64VarP(&cfg.BalancePerPayerSOL, "payer-balance", "b", cfg.BalancePerPayerSOL, "Balance of payer in SOLs")
	flags.IntVarP(&cfg.NbMints, "number-of-mints", "m", cfg.NbMints, "Number of mints")
	flags.IntVarP(&cfg.OrdersPerSide, "number-of-market-orders-per-user", "n", cfg.OrdersPerSide, "Number of market orders per user on each side")
	flags.BoolVarP(&cfg.SkipProgramDeployment, "skip-program-deployment", "s", cfg.SkipProgramDeployment, "Skip checking that programs are deployed")
	flags.StringVarP(&cfg.OutputFile, "output-file", "o", cfg.OutputFile, "Output file")
	flags.StringVar(&cfg.ProgramsPath, "programs", cfg.ProgramsPath, "Program registry file")
	flags.StringVar(&cfg.DBDSN, "db-dsn", cfg.DBDSN, "Postgres DSN of the run ledger; disabled when empty")
	return cmd
}
