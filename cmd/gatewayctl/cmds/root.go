package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/carlmjohnson/versioninfo"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/congo-pay/custody-gateway/internal/config"
	"github.com/congo-pay/custody-gateway/internal/infra"
	"github.com/congo-pay/custody-gateway/internal/logging"
)

// Cmd is the operator command line. Resources are opened per command so
// keygen works without any configuration.
type Cmd struct {
	// Out receives command output, stdout when nil.
	Out io.Writer

	logLevel string
}

func (c *Cmd) Run(ctx context.Context, args []string) error {
	root := &cobra.Command{
		Use:           "gatewayctl",
		Short:         "operate the custody gateway",
		Version:       versioninfo.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(c.migrateCmd())
	root.AddCommand(c.keygenCmd())
	root.AddCommand(c.rotateKeysCmd())
	root.AddCommand(c.reconcileCmd())

	root.SetArgs(args)
	if c.Out != nil {
		root.SetOut(c.Out)
	} else {
		root.SetOut(os.Stdout)
	}

	return root.ExecuteContext(ctx)
}

func (c *Cmd) logger() *slog.Logger {
	return logging.NewWithWriter(os.Stderr, c.logLevel, "text")
}

// database loads the config and opens the Postgres pool. The caller closes it.
func (c *Cmd) database(ctx context.Context) (config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.AppName+"-ctl")
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, db, nil
}

func jsonPrint(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
