// Command flowcore-server runs the integration execution engine behind its
// HTTP API.
package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"

	"github.com/nexusflow/flowcore/engine/connector"
	"github.com/nexusflow/flowcore/engine/facade"
	"github.com/nexusflow/flowcore/internal/httpapi"
	"github.com/nexusflow/flowcore/pkg/logger"
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flowcore-server",
		Short: "flowcore-server runs the integration execution engine",
		Long:  "A command-line interface for running the connector integration execution engine and its HTTP API.",
	}
	rootCmd.PersistentFlags().StringP("config", "", "flowcore.yaml", "Path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(newServeCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	var addr string
	var sessionTTL time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			verbose, _ := cmd.Flags().GetBool("verbose")
			log := buildLogger(verbose)
			ctx := logger.ContextWithLogger(context.Background(), log)

			if !cmd.Flags().Changed("addr") && v.IsSet("server.addr") {
				addr = v.GetString("server.addr")
			}
			if !cmd.Flags().Changed("session-ttl") && v.IsSet("sessions.ttl") {
				if d, err := time.ParseDuration(v.GetString("sessions.ttl")); err == nil {
					sessionTTL = d
				}
			}

			return runServer(ctx, addr, sessionTTL)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().DurationVar(&sessionTTL, "session-ttl", 30*time.Minute, "Flow session TTL")
	return cmd
}

func loadConfig(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("FLOWCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// A missing file is fine (the default path usually doesn't
			// exist); a present-but-broken one is not.
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}
	return v, nil
}

func buildLogger(verbose bool) logger.Logger {
	cfg := logger.DefaultConfig()
	if verbose {
		cfg.Level = logger.DebugLevel
	}
	return logger.NewLogger(cfg)
}

func runServer(ctx context.Context, addr string, sessionTTL time.Duration) error {
	log := logger.FromContext(ctx)

	// The global provider is a no-op until a deployment installs a real
	// metrics SDK; the instruments are wired either way.
	meter := otel.Meter("flowcore-server")

	engine, err := facade.New(builtinConnectors(), sessionTTL, facade.WithMeter(meter))
	if err != nil {
		return err
	}
	defer engine.Destroy()

	serverCfg := httpapi.DefaultConfig()
	serverCfg.Meter = meter
	srv := httpapi.NewServer(engine, serverCfg)
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErrCh:
		return err
	case <-stop:
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

// builtinConnectors returns the catalog this binary ships with. A real
// deployment would load these from a registry directory; the engine
// doesn't care where the *connector.Connector values come from.
func builtinConnectors() []*connector.Connector {
	return []*connector.Connector{}
}
