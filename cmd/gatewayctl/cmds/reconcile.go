package cmds

import (
	"github.com/spf13/cobra"

	"github.com/congo-pay/custody-gateway/internal/chain"
	"github.com/congo-pay/custody-gateway/internal/config"
	"github.com/congo-pay/custody-gateway/internal/ledger"
	"github.com/congo-pay/custody-gateway/internal/monitor"
	"github.com/congo-pay/custody-gateway/internal/notification"
)

func (c *Cmd) reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "run one reconciliation cycle and print its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, db, err := c.database(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			networks, err := config.LoadNetworks(cfg.NetworksFile)
			if err != nil {
				return err
			}
			factory, err := cfg.ChainFactory(networks)
			if err != nil {
				return err
			}
			chains, err := chain.NewRegistry(networks, factory)
			if err != nil {
				return err
			}

			logger := c.logger()
			mon := monitor.New(ledger.NewPostgresStore(db), chains, notification.NewLoggerNotifier(logger), logger, monitor.Config{
				Concurrency: cfg.MonitorConcurrency,
				Dust:        cfg.DustThreshold,
				CallTimeout: cfg.ChainCallTimeout,
			})
			return jsonPrint(cmd, mon.RunCycle(ctx))
		},
	}
}
