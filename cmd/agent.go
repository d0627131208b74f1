package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"prismd/internal/heartbeat"
	"prismd/internal/logging"
)

var (
	agentServerAddr  string
	agentInterval    time.Duration
	agentHostname    string
	agentAuthToken   string
	agentDialTimeout time.Duration
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the heartbeat client that registers this host with a prismd server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if agentServerAddr == "" {
			return fmt.Errorf("agent: --server is required")
		}

		logCfg := logging.DefaultConfig()
		logger, err := logging.NewLogger(&logCfg)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		cfg := heartbeat.DefaultConfig(agentServerAddr)
		if agentInterval > 0 {
			cfg.Interval = agentInterval
		}
		if agentHostname != "" {
			cfg.Hostname = agentHostname
		}
		cfg.AuthToken = agentAuthToken
		if agentDialTimeout > 0 {
			cfg.DialTimeout = agentDialTimeout
		}

		client := heartbeat.New(cfg, logger)
		client.Start()
		defer client.Stop()

		logger.Info("heartbeat agent started", logging.F("server", agentServerAddr))

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()

		logger.Info("heartbeat agent shutting down", logging.F("reason", "signal received"))
		return nil
	},
}

func init() {
	agentCmd.Flags().StringVar(&agentServerAddr, "server", "", "prismd server address (host:port)")
	agentCmd.Flags().DurationVar(&agentInterval, "interval", 0, "heartbeat interval (defaults to 60s)")
	agentCmd.Flags().StringVar(&agentHostname, "hostname", "", "override detected hostname")
	agentCmd.Flags().StringVar(&agentAuthToken, "auth-token", "", "auth token to present on each registration")
	agentCmd.Flags().DurationVar(&agentDialTimeout, "dial-timeout", 0, "per-attempt dial timeout (defaults to 5s)")
}
