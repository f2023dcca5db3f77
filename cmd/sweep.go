package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/medrelay/dispatch/app"
	"github.com/medrelay/dispatch/config"
	"github.com/medrelay/dispatch/infra/logger"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire stale pending trips once and exit",
	RunE:  sweepOnce,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func sweepOnce(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("sweep").Errorf("service close: %v", err)
		}
	}()

	expired, err := svc.Reaper.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("expired %d stale trips\n", expired)
	return nil
}
