package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/raniellyferreira/minredis"
	"github.com/raniellyferreira/minredis/metrics"
)

var (
	rootCmd = &cobra.Command{
		Use:   "minredis",
		Short: "Redis-compatible server with replica bootstrap",
		Long: fmt.Sprintf(`minredis (v%s)

Serves PING, ECHO, SET, GET, INFO and Lua scripting over RESP. With
--replicaof it first performs the replica handshake against the primary.
Flags may also be set as MINREDIS_<FLAG> environment variables
(e.g. MINREDIS_READ_TIMEOUT=30s).`, minredis.Version),
		SilenceUsage: true,
		PreRunE:      bindFlags,
		RunE:         runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of minredis",
		Run: func(cmd *cobra.Command, args []string) {
			for _, key := range []string{"version", "commit", "buildTime"} {
				if v, ok := minredis.VersionInfo()[key]; ok {
					fmt.Printf("%s: %s\n", key, v)
				}
			}
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(infoCmd)

	flags := rootCmd.Flags()
	flags.Int("port", minredis.DefaultPort, "port to listen on")
	flags.String("bind", "0.0.0.0", "interface to listen on")
	flags.String("replicaof", "", `primary to replicate from, as "host port"`)
	flags.Duration("read-timeout", 0, "close client connections idle this long (0 keeps them open)")
	flags.Duration("handshake-timeout", 30*time.Second, "time allowed for the replica handshake and snapshot load")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9121)")
}

// initConfig loads .env files and environment variables
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("minredis")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func bindFlags(cmd *cobra.Command, _ []string) error {
	return viper.BindPFlags(cmd.Flags())
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	level, err := parseLogLevel(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	collector := metrics.NewCollector()

	opts := []minredis.Option{
		minredis.WithPort(viper.GetInt("port")),
		minredis.WithBindHost(viper.GetString("bind")),
		minredis.WithReadTimeout(viper.GetDuration("read-timeout")),
		minredis.WithHandshakeTimeout(viper.GetDuration("handshake-timeout")),
		minredis.WithLogger(minredis.NewSlogLogger(logger)),
		minredis.WithMetrics(collector),
	}
	if primary := viper.GetString("replicaof"); primary != "" {
		opts = append(opts, minredis.WithReplicaOf(primary))
	}

	node, err := minredis.New(opts...)
	if err != nil {
		return err
	}
	defer node.Close()

	collector.TrackKeys(node.Keys)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := node.Start(ctx); err != nil {
		return err
	}

	if addr := viper.GetString("metrics-addr"); addr != "" {
		srv := newMetricsServer(addr, collector)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "addr", addr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("Serving metrics", "addr", addr)
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	return nil
}

func newMetricsServer(addr string, collector *metrics.Collector) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		collector.WritePrometheus(w)
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
