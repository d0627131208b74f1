// Package cmd contains the CLI wiring for the prismd application.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"prismd/internal/config"
	"prismd/internal/dnsprovider"
	"prismd/internal/email"
	"prismd/internal/host"
	"prismd/internal/liveness"
	"prismd/internal/logging"
	"prismd/internal/registration"
	"prismd/internal/retry"
	"prismd/internal/stats"
	"prismd/internal/suppression"
	"prismd/internal/tcpserver"
	"prismd/internal/validate"
	"prismd/internal/workerpool"
)

// dnsWorkerPoolSize and dnsWorkerQueueCapacity bound how many ensure_record/
// delete_record calls run concurrently and how many more can queue behind
// them before Submit starts rejecting work; dnsWorkerTaskTimeout guards any
// single DNS call that hangs against the configured backend.
const (
	dnsWorkerPoolSize      = 4
	dnsWorkerQueueCapacity = 256
	dnsWorkerTaskTimeout   = 30 * time.Second
	dnsWorkerDrainTimeout  = 5 * time.Second
)

var rootCmd = &cobra.Command{
	Use:   "prismd",
	Short: "Managed-hostname registration server",
	Long:  "prismd accepts length-prefixed JSON registration messages, tracks host liveness, and propagates accepted mappings to DNS.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfgPath, err := cmd.Flags().GetString("config")
		if err != nil {
			return err
		}
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return runServer(cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path")
	rootCmd.AddCommand(agentCmd)
}

// Execute sets the version and runs the root command.
func Execute(version string) error {
	rootCmd.Version = version
	return rootCmd.Execute()
}

func runServer(cfg *config.Config) error {
	logCfg := logging.DefaultConfig()
	logger, err := logging.NewLogger(&logCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	store, err := buildHostStore(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("build host store: %w", err)
	}

	var dns dnsprovider.Provider = dnsprovider.Disabled{}
	if cfg.DNS.Enabled {
		dns = dnsprovider.NewStatic(cfg.DNS.DefaultZone)
	}

	statsCollector := stats.New()

	dnsWorkers := workerpool.New("dns-sync", dnsWorkerPoolSize, dnsWorkerQueueCapacity, dnsWorkerTaskTimeout, logger)
	defer dnsWorkers.Close(dnsWorkerDrainTimeout)

	regCfg := registration.Config{
		DefaultZone:    cfg.DNS.DefaultZone,
		DefaultTTL:     int(cfg.DNS.DefaultTTL.Seconds()),
		DNSEnabled:     cfg.DNS.Enabled,
		DNSRetryPolicy: retry.DNSBackoffConfig(),
		DNSWorkers:     dnsWorkers,
	}
	processor := registration.New(regCfg, store, dns, statsCollector, logger)

	validator := validate.New()

	tcpCfg := tcpserver.DefaultConfig()
	tcpCfg.ListenAddress = cfg.Server.Host
	tcpCfg.Port = cfg.Server.TCPPort
	tcpCfg.MaxConnections = cfg.Server.MaxConnections
	tcpCfg.GracefulShutdownTimeout = cfg.Server.GracefulShutdownTimeout
	tcpCfg.Conn.ConnectionTimeout = cfg.Server.ConnectionTimeout
	tcpCfg.Conn.MaxMessageSize = cfg.Protocol.MaxMessageSize
	tcpCfg.Conn.MaxBufferSize = cfg.Protocol.MaxBufferSize

	server := tcpserver.New(tcpCfg, validator, processor, statsCollector, logger)

	retractionPolicy := liveness.RetractionKeep
	if cfg.DNS.RetractionPolicy == "remove" {
		retractionPolicy = liveness.RetractionRemove
	}
	liveCfg := liveness.DefaultConfig(cfg.Heartbeat.Interval)
	liveCfg.LivenessTimeout = cfg.Heartbeat.LivenessTimeout
	liveCfg.RetractionPolicy = retractionPolicy
	monitor := liveness.New(liveCfg, store, dns, statsCollector, logger)

	provider, err := buildEmailProvider(cfg, logger)
	if err != nil {
		return fmt.Errorf("build email provider: %w", err)
	}
	if ok := provider.VerifyConfiguration(context.Background()); !ok {
		logger.Warn("email provider configuration could not be verified", logging.F("provider", provider.Name()))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := monitor.Run(ctx); err != nil {
			logger.Warn("liveness monitor stopped", logging.F("error", err.Error()))
		}
	}()

	logger.Info("prismd starting", logging.F("address", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.TCPPort)))
	return server.ListenAndServe(ctx)
}

func buildHostStore(ctx context.Context, cfg *config.Config) (host.Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		return host.NewPGStore(ctx, host.DefaultPGConfig(cfg.Store.PGDSN))
	case "sqlite":
		return host.NewSQLiteStore(ctx, cfg.Store.SQLitePath)
	default:
		return host.NewMemStore(), nil
	}
}

func buildEmailProvider(cfg *config.Config, logger logging.Logger) (email.Provider, error) {
	switch cfg.Email.Provider {
	case "smtp":
		smtpCfg := email.DefaultSMTPProviderConfig()
		smtpCfg.Pool.Host = cfg.SMTP.Host
		smtpCfg.Pool.Port = cfg.SMTP.Port
		smtpCfg.Pool.Username = cfg.SMTP.Username
		smtpCfg.Pool.Password = cfg.SMTP.Password
		smtpCfg.Pool.UseTLS = cfg.SMTP.UseTLS
		smtpCfg.Pool.UseSSL = cfg.SMTP.UseSSL
		smtpCfg.Pool.MaxSize = cfg.SMTP.Pool.MaxSize
		smtpCfg.Pool.MaxIdleTime = cfg.SMTP.Pool.MaxIdleTime
		smtpCfg.Backoff.MaxAttempts = cfg.Retry.MaxAttempts
		smtpCfg.Backoff.InitialDelay = cfg.Retry.InitialDelay
		smtpCfg.Backoff.MaxDelay = cfg.Retry.MaxDelay
		smtpCfg.Backoff.Jitter = cfg.Retry.Jitter
		smtpCfg.Breaker.FailureThreshold = cfg.Breaker.FailureThreshold
		smtpCfg.Breaker.RecoveryTimeout = cfg.Breaker.RecoveryTimeout
		smtpCfg.DKIM = email.DKIMConfig{
			Domain:        cfg.SMTP.DKIM.Domain,
			Selector:      cfg.SMTP.DKIM.Selector,
			PrivateKeyPEM: cfg.SMTP.DKIM.PrivateKey,
		}
		return email.NewSMTPProvider(smtpCfg, logger), nil
	case "ses":
		suppressionStore := suppression.New()
		return email.NewTransactionalProvider(email.DefaultTransactionalConfig(), suppressionStore, logger), nil
	default:
		return email.NewConsoleProvider(email.DefaultConsoleConfig(), os.Stdout, logger), nil
	}
}
