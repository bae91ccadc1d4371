package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"h2rpc/client"
	"h2rpc/codec"
	"h2rpc/config"
	"h2rpc/loadbalance"
	"h2rpc/metadata"
	"h2rpc/metrics"
	"h2rpc/middleware"
	"h2rpc/registry"
	"h2rpc/request"
	"h2rpc/server"
)

var rootCmd = &cobra.Command{
	Use:   "h2rpc",
	Short: "RPC over HTTP/2 cleartext",
	Long: `h2rpc serves and calls Go methods over h2c.

Settings come from H2RPC_* environment variables; flags override them.
Without H2RPC_ETCD_ENDPOINTS discovery is in-process only.`,
	SilenceUsage: true,
}

// loadConfig overlays the flags the user actually set on the environment config.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Addr, _ = flags.GetString("addr")
	}
	if flags.Changed("advertise") {
		cfg.AdvertiseAddr, _ = flags.GetString("advertise")
	}
	if flags.Changed("codec") {
		cfg.Codec, _ = flags.GetString("codec")
	}
	if flags.Changed("etcd") {
		cfg.EtcdEndpoints, _ = flags.GetStringSlice("etcd")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("balancer") {
		cfg.Balancer, _ = flags.GetString("balancer")
	}
	if flags.Changed("timeout") {
		cfg.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("retries") {
		cfg.Retries, _ = flags.GetUint("retries")
	}
	return cfg, cfg.Validate()
}

// ─── serve ──────────────────────────────────────────────────────────────────

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the built-in Arith service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := cfg.NewLogger()
		if err != nil {
			return err
		}
		defer logger.Sync()

		reg, closeReg, err := cfg.NewRegistry(logger)
		if err != nil {
			return err
		}
		defer closeReg()

		rec := metrics.NewRecorder()
		svr := server.NewServer(
			server.WithLogger(logger),
			server.WithMaxBodySize(cfg.MaxBodySize),
			server.WithRegistryTTL(cfg.RegistryTTL),
		)
		svr.Use(middleware.LoggingMiddleware(logger))
		svr.Use(middleware.MetricsMiddleware(rec, logger))
		if cfg.RateLimit > 0 {
			svr.Use(middleware.RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
		}
		if cfg.Timeout > 0 {
			svr.Use(middleware.TimeOutMiddleware(cfg.Timeout))
		}
		if err := svr.Register(&Arith{}); err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() { errCh <- svr.Serve("tcp", cfg.Addr, cfg.Advertise(), reg) }()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case err := <-errCh:
			return err
		case <-sig:
		}

		logger.Info("shutting down")
		if err := svr.Shutdown(10 * time.Second); err != nil {
			return err
		}
		for _, method := range rec.Methods() {
			logger.Info("latency",
				zap.String("method", method),
				zap.Uint64("calls", rec.Count(method)),
				zap.Uint64("errors", rec.Errors(method)),
				zap.Duration("p50", rec.Quantile(method, 0.5)),
				zap.Duration("p99", rec.Quantile(method, 0.99)))
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

// ─── call ───────────────────────────────────────────────────────────────────

var callCmd = &cobra.Command{
	Use:   "call <Service.Method> <json-args>",
	Short: "Call a method and print the JSON reply",
	Example: `  h2rpc call Arith.Add '{"A":1,"B":2}'
  h2rpc call Arith.Add '{"A":1,"B":2}' --header X-Request-Id=abc`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		codecType, _ := cfg.CodecType()
		if codecType != codec.CodecTypeJSON {
			return errors.New("call: only the json codec can carry raw arguments")
		}
		if !json.Valid([]byte(args[1])) {
			return errors.Errorf("call: arguments are not valid JSON: %s", args[1])
		}
		logger, err := cfg.NewLogger()
		if err != nil {
			return err
		}
		defer logger.Sync()

		reg, closeReg, err := cfg.NewRegistry(logger)
		if err != nil {
			return err
		}
		defer closeReg()
		// without etcd the target is the configured address
		if len(cfg.EtcdEndpoints) == 0 {
			serviceName, _, _ := strings.Cut(args[0], ".")
			if err := reg.Register(serviceName, registry.ServiceInstance{Addr: cfg.Advertise()}, cfg.RegistryTTL); err != nil {
				return err
			}
		}

		bal, _ := loadbalance.New(cfg.Balancer)
		cli, err := client.NewClient(reg, bal, codecType,
			client.WithLogger(logger),
			client.WithRetry(cfg.Retries+1, 100*time.Millisecond))
		if err != nil {
			return err
		}
		defer cli.Close()

		req := request.New[any](json.RawMessage(args[1]))
		headers, _ := cmd.Flags().GetStringArray("header")
		for _, kv := range headers {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return errors.Errorf("call: header %q is not key=value", kv)
			}
			req.Header().Add(k, v)
		}
		if key, _ := cmd.Flags().GetString("affinity"); key != "" {
			req.Header().Set(metadata.AffinityKey, key)
		}

		ctx := context.Background()
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
		}

		var reply json.RawMessage
		if _, err := cli.Invoke(ctx, args[0], req, &reply); err != nil {
			return err
		}
		fmt.Println(string(reply))
		return nil
	},
}

func init() {
	def := config.Default()
	for _, cmd := range []*cobra.Command{serveCmd, callCmd} {
		cmd.Flags().String("addr", def.Addr, "Server address (H2RPC_ADDR)")
		cmd.Flags().String("codec", def.Codec, "Payload codec: json or proto (H2RPC_CODEC)")
		cmd.Flags().StringSlice("etcd", nil, "etcd endpoints (H2RPC_ETCD_ENDPOINTS)")
		cmd.Flags().String("log-level", def.LogLevel, "Log level (H2RPC_LOG_LEVEL)")
		cmd.Flags().Duration("timeout", def.Timeout, "Per-call timeout, 0 disables (H2RPC_TIMEOUT)")
	}
	serveCmd.Flags().String("advertise", "", "Address registered for discovery (H2RPC_ADVERTISE_ADDR)")
	callCmd.Flags().String("balancer", def.Balancer, "roundrobin, weightedrandom or consistenthash (H2RPC_BALANCER)")
	callCmd.Flags().Uint("retries", def.Retries, "Retries on transport failure (H2RPC_RETRIES)")
	callCmd.Flags().StringArray("header", nil, "Request header as key=value, repeatable")
	callCmd.Flags().String("affinity", "", "Affinity key for consistent-hash balancing")

	rootCmd.AddCommand(serveCmd, callCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
