// Package cli builds the supplyledger command tree. Configuration comes from
// flags, SUPPLYLEDGER_* environment variables and supplyledger.yaml, merged by
// viper in that order of precedence.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/poudelalish/blockchain-inventory/internal/config"
	"github.com/poudelalish/blockchain-inventory/internal/logging"
)

// Version is stamped at build time.
var Version = "dev"

type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     config.Config
	logger  zerolog.Logger
}

// NewRootCommand returns the supplyledger root command.
func NewRootCommand() *cobra.Command {
	a := &app{v: config.NewViper("")}

	root := &cobra.Command{
		Use:           "supplyledger",
		Short:         "Supply-chain custody ledger",
		Long:          "Run and operate a ledger that tracks products from order to sale through registered suppliers, manufacturers, distributors and retailers.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "config file (default: ./supplyledger.yaml)")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format (console, json)")
	pf.String("network", "", "network id used to resolve the ledger in the deployment directory")
	pf.String("url", "", "ledger base URL; skips the deployment directory")
	pf.String("caller", "", "caller identity sent with mutating requests")
	bindFlag(pf, "log-level", "log.level")
	bindFlag(pf, "log-format", "log.format")
	bindFlag(pf, "network", "network_id")
	bindFlag(pf, "url", "client.base_url")
	bindFlag(pf, "caller", "client.caller")

	root.AddCommand(
		newServeCommand(a),
		newDeployCommand(a),
		newNetworksCommand(a),
		newPingCommand(a),
		newStatsCommand(a),
		newRoleCommand(a),
		newProductCommand(a),
	)
	for _, cmd := range newTransitionCommands(a) {
		root.AddCommand(cmd)
	}
	return root
}

// viperKeyAnnotation maps a flag onto the configuration key it overrides.
// Bindings are applied for the running command only, so several commands may
// bind flags to the same key.
const viperKeyAnnotation = "supplyledger/viper-key"

func bindFlag(flags *pflag.FlagSet, name, key string) {
	_ = flags.SetAnnotation(name, viperKeyAnnotation, []string{key})
}

func (a *app) init(cmd *cobra.Command) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if keys := f.Annotations[viperKeyAnnotation]; len(keys) == 1 && bindErr == nil {
			bindErr = a.v.BindPFlag(keys[0], f)
		}
	})
	if bindErr != nil {
		return bindErr
	}
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	}
	if err := config.ReadFile(a.v); err != nil {
		return err
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	logger, err := logging.New("supplyledger", cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.logger = logger.With().Str("command", cmd.Name()).Logger()
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
