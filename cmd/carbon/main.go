// Command carbon is Carbon's server binary (SPEC_FULL.md §10): a cobra
// root command wiring config, logging, the cache Registry, AuthCache, and
// the TCP/HTTP front-ends, with signal-based graceful shutdown (spec §5).
//
// The teacher's cmd/memcached/main.go sequences "parse config, build
// logger, build cache, build server, serve, fatal-log on exit" with
// flag+encoding/json; its own NOTE comment names spf13/cobra as the CLI
// library it would reach for without the stdlib-only constraint. This
// binary follows that sequencing with cobra driving it.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/carbondb/carbon/internal/authcache"
	"github.com/carbondb/carbon/internal/clock"
	"github.com/carbondb/carbon/internal/config"
	"github.com/carbondb/carbon/internal/httpapi"
	"github.com/carbondb/carbon/internal/httpapi/adminui"
	"github.com/carbondb/carbon/internal/logging"
	"github.com/carbondb/carbon/internal/registry"
	"github.com/carbondb/carbon/internal/tcpserver"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if err == errDrainTimeout {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "carbon",
		Short: "Carbon multi-tenant cache server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the carbon version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

// run implements the boot/serve/drain sequence of spec §5: exit 0 on a
// clean drain, exit 1 on a drain timeout, exit 2 on fatal init failure
// (enforced by main's os.Exit(2) on a non-nil error from cobra).
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logging.New(cfg.LogLevel, "stderr")
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	log.Info().Str("version", version).Msg("carbon starting")

	clk := clock.System{}
	reg := registry.New(clk, log)
	defer reg.Shutdown()

	auth := authcache.New(authcache.Config{
		ServerSecret: []byte(cfg.ServerSecret),
		IdleTTL:      cfg.SessionIdleTTL,
		AbsoluteTTL:  cfg.SessionAbsTTL,
	}, clk, log)
	defer auth.Close()

	if cfg.AdminUser != "" {
		if err := auth.AddPrincipal(cfg.AdminUser, cfg.AdminPassword, authcache.RoleAdmin); err != nil {
			return fmt.Errorf("seeding admin principal: %w", err)
		}
		log.Info().Str("user", cfg.AdminUser).Msg("admin principal seeded")
	}

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	tcpAddr := fmt.Sprintf(":%d", cfg.TCPPort)

	if cfg.TCPRequireLoop {
		host, _, splitErr := net.SplitHostPort(tcpAddr)
		if splitErr == nil && host != "127.0.0.1" && host != "localhost" {
			log.Warn().Str("tcp_addr", tcpAddr).Msg("tcp front-end is unauthenticated and bound beyond loopback; set CARBON_TCP_REQUIRE_LOOPBACK=false to silence this")
		}
	}

	httpSrv := &http.Server{
		Addr:    httpAddr,
		Handler: httpapi.NewRouter(reg, auth, httpapi.Config{AllowedOrigins: cfg.AllowedOrigins, AdminUI: adminui.FS()}, log),
	}
	tcpSrv := tcpserver.New(tcpserver.Config{Addr: tcpAddr}, reg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", httpAddr).Msg("http front-end listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		log.Info().Str("addr", tcpAddr).Msg("tcp front-end listening")
		if err := tcpSrv.ListenAndServe(ctx); err != nil {
			errCh <- fmt.Errorf("tcp: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		log.Info().Msg("shutdown signal received, draining")
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer drainCancel()
	cancel()

	if err := httpSrv.Shutdown(drainCtx); err != nil {
		log.Warn().Err(err).Msg("http drain timed out")
		return errDrainTimeout
	}

	log.Info().Msg("carbon stopped cleanly")
	return nil
}

var errDrainTimeout = fmt.Errorf("drain timed out")
