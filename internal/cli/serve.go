package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/poudelalish/blockchain-inventory/internal/adapters/httpapi"
	"github.com/poudelalish/blockchain-inventory/internal/blob"
	"github.com/poudelalish/blockchain-inventory/internal/directory"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ledger over HTTP",
		Long: `Open the configured store, bootstrap the owner, record this server in the
deployment directory and serve the ledger API until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, cmd)
		},
	}
	cmd.Flags().String("addr", "", "listen address")
	cmd.Flags().String("owner", "", "ledger owner identity, recorded on first start")
	bindFlag(cmd.Flags(), "addr", "http.addr")
	bindFlag(cmd.Flags(), "owner", "owner")
	return cmd
}

func (a *app) serve(ctx context.Context, cmd *cobra.Command) error {
	l, err := a.openLedger(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Close(context.Background()); err != nil {
			a.logger.Error().Err(err).Msg("close ledger")
		}
	}()

	dir, err := a.openDirectory(ctx)
	if err != nil {
		return err
	}
	watcher, err := a.watchDirectory(dir)
	if err != nil {
		return err
	}
	if watcher != nil {
		defer func() { _ = watcher.Stop() }()
	}

	opts := []httpapi.Option{
		httpapi.WithLogger(a.logger),
		httpapi.WithCallerHeader(a.cfg.HTTP.CallerHeader),
		httpapi.WithCORSOrigins(a.cfg.HTTP.CORSOrigins...),
	}
	if proxies := a.cfg.HTTP.TrustedProxies; len(proxies) > 0 {
		auth, err := httpapi.TrustedProxyAuthenticator(a.cfg.HTTP.CallerHeader, proxies)
		if err != nil {
			return err
		}
		opts = append(opts, httpapi.WithAuthenticator(auth))
	} else {
		a.logger.Warn().Str("header", a.cfg.HTTP.CallerHeader).Msg("caller identities are taken from the request header unverified; set http.trusted_proxies behind a gateway")
	}
	if l.registry != nil {
		opts = append(opts, httpapi.WithMetrics(l.registry, l.registry))
	}
	api, err := httpapi.New(l.svc, opts...)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	dep, err := a.recordDeployment(ctx, dir)
	if err != nil {
		a.logger.Warn().Err(err).Msg("record deployment")
	} else {
		a.logger.Info().Str("network", a.cfg.NetworkID).Str("address", dep.Address).Msg("deployment recorded")
	}
	a.logger.Info().Str("addr", a.cfg.HTTP.Addr).Str("storage", a.cfg.Storage.Driver).Msg("ledger serving")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.logger.Info().Msg("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func newDeployCommand(a *app) *cobra.Command {
	var urlExpiry time.Duration
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Bootstrap the ledger and record it in the deployment directory",
		Long: `Open the configured store, record the owner and publish the ledger's public
URL under the network id in the deployment directory, then print the stored
document's metadata and, where the blob driver can sign one, a time-limited
URL to fetch it. Running it again is safe; a different owner is rejected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			l, err := a.openLedger(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = l.Close(context.Background()) }()

			dir, err := a.openDirectory(ctx)
			if err != nil {
				return err
			}
			dep, err := a.recordDeployment(ctx, dir)
			if err != nil {
				return err
			}
			out := map[string]any{
				"network":    a.cfg.NetworkID,
				"deployment": dep,
			}
			info, err := dir.Stat(ctx)
			if err != nil {
				return err
			}
			out["document"] = info
			url, err := dir.DocumentURL(ctx, urlExpiry)
			switch {
			case err == nil:
				out["document_url"] = url
			case !errors.Is(err, blob.ErrUnsupported):
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().String("owner", "", "ledger owner identity")
	cmd.Flags().String("public-url", "", "address recorded in the deployment directory")
	cmd.Flags().DurationVar(&urlExpiry, "url-expiry", directory.DefaultURLExpiry, "lifetime of the printed directory document URL")
	bindFlag(cmd.Flags(), "owner", "owner")
	bindFlag(cmd.Flags(), "public-url", "http.public_url")
	return cmd
}
