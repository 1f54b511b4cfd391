package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/openllm-network/oracled/oracle/config"
	"github.com/openllm-network/oracled/oracle/daemon"
	"github.com/openllm-network/oracled/oracle/keys"
	"github.com/openllm-network/oracled/oracle/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var home string

	cmd := &cobra.Command{
		Use:          "oracled <network>",
		Short:        "Off-chain oracle node for the on-chain LLM service",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(home, args[0])
		},
	}
	cmd.Flags().StringVar(&home, "home", config.DefaultHome(), "node home directory")

	return cmd
}

func run(home, network string) error {
	log.InitLogger()

	if err := godotenv.Load(); err == nil {
		log.Info("loaded environment from .env")
	}

	if err := config.Load(home, network); err != nil {
		return err
	}

	log.ResetLogger(config.Home())
	config.Print()

	wallet, err := keys.Load(config.KeyFile())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := daemon.New(ctx, wallet)
	if err != nil {
		return err
	}

	if err := d.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("received shutdown signal")
	cancel()
	d.Stop()

	return nil
}
