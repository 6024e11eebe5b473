package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/npezzotti/gochat-realtime/internal/api"
	"github.com/npezzotti/gochat-realtime/internal/config"
	"github.com/npezzotti/gochat-realtime/internal/database"
	"github.com/npezzotti/gochat-realtime/internal/events"
	"github.com/npezzotti/gochat-realtime/internal/ratelimit"
	"github.com/npezzotti/gochat-realtime/internal/server"
	"github.com/npezzotti/gochat-realtime/internal/stats"
	"github.com/npezzotti/gochat-realtime/internal/telemetry"
)

const (
	defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="
	shutdownTimeout   = 10 * time.Second

	addrKey           = "addr"
	dsnKey            = "dsn"
	signingKeyKey     = "signing-key"
	allowedOriginsKey = "allowed-origins"
	typingTimeoutKey  = "typing-timeout"
	sweepIntervalKey  = "status-sweep-interval"
	rateLimitKey      = "rate-limit"
	rateWindowKey     = "rate-window"
	redisAddrKey      = "redis-addr"
	amqpURLKey        = "amqp-url"
	amqpExchangeKey   = "amqp-exchange"
	otlpEndpointKey   = "otlp-endpoint"
	migrateKey        = "migrate"
)

var rootCmd = &cobra.Command{
	Use:           "gochat",
	Short:         "Real-time presence and messaging gateway",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.String(addrKey, "localhost:8000", "server address")
	flags.String(dsnKey, "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	flags.String(signingKeyKey, defaultSigningKey, "base64 encoded signing key")
	flags.StringSlice(allowedOriginsKey, nil, "comma-separated list of allowed origins for CORS")
	flags.Duration(typingTimeoutKey, server.DefaultTypingTimeout, "idle time before a typing indicator expires")
	flags.Duration(sweepIntervalKey, server.DefaultStatusSweepInterval, "how often expired custom statuses are cleared")
	flags.Int(rateLimitKey, 0, "messages allowed per user per rate window, 0 disables limiting")
	flags.Duration(rateWindowKey, 5*time.Second, "rate limit window")
	flags.String(redisAddrKey, "", "redis address for the send rate limiter")
	flags.String(amqpURLKey, "", "AMQP broker URL for gateway events")
	flags.String(amqpExchangeKey, "gochat.events", "AMQP exchange for gateway events")
	flags.String(otlpEndpointKey, "", "OTLP gRPC endpoint for traces")
	flags.Bool(migrateKey, true, "apply database migrations on startup")

	viper.SetEnvPrefix("GOCHAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	cobra.CheckErr(viper.BindPFlags(flags))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.New(os.Stderr, "[gochat] ", log.LstdFlags).Fatalln(err)
	}
}

func serve() error {
	logger := log.New(os.Stderr, "[gochat] ", log.LstdFlags)

	cfg, err := config.NewConfig(config.Params{
		ServerAddr:          viper.GetString(addrKey),
		DatabaseDSN:         viper.GetString(dsnKey),
		SigningKey:          viper.GetString(signingKeyKey),
		AllowedOrigins:      viper.GetStringSlice(allowedOriginsKey),
		TypingTimeout:       viper.GetDuration(typingTimeoutKey),
		StatusSweepInterval: viper.GetDuration(sweepIntervalKey),
		RateLimit:           viper.GetInt(rateLimitKey),
		RateWindow:          viper.GetDuration(rateWindowKey),
		RedisAddr:           viper.GetString(redisAddrKey),
		AMQPURL:             viper.GetString(amqpURLKey),
		AMQPExchange:        viper.GetString(amqpExchangeKey),
		OTLPEndpoint:        viper.GetString(otlpEndpointKey),
	})
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	shutdownTracing, err := telemetry.Setup(context.Background(), "gochat-gateway", cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	dbConn, err := database.NewPgGoChatRepository(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	if viper.GetBool(migrateKey) {
		if err := dbConn.Migrate(); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	publisher := events.NewPublisher(logger, cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()

	opts := server.Options{
		TypingTimeout:       cfg.TypingTimeout,
		StatusSweepInterval: cfg.StatusSweepInterval,
		Publisher:           publisher,
	}
	if cfg.RateLimited() {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		opts.RateLimiter = ratelimit.NewLimiter(rdb, "gochat:send", cfg.RateLimit, cfg.RateWindow)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, dbConn, statsUpdater, opts)
	if err != nil {
		return fmt.Errorf("new chat server: %w", err)
	}

	srv := api.NewGoChatApp(mux, logger, chatServer, dbConn, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		return fmt.Errorf("chat server shutdown: %w", err)
	}

	if err := shutdownTracing(shutDownCtx); err != nil {
		logger.Println("tracing shutdown:", err)
	}

	logger.Println("shutdown complete")
	return nil
}
