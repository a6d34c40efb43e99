//go:build unix

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentworkforce/tasksync/internal/syncer"
)

// watchVisibility maps SIGUSR1 to background and SIGUSR2 to foreground.
func watchVisibility(ctx context.Context, poller *syncer.Poller, logger *log.Logger) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(signals)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			visible := sig == syscall.SIGUSR2
			if visible == poller.Visible() {
				continue
			}
			checked := poller.SetVisible(ctx, visible)
			logger.Printf("visibility changed: visible=%t checked=%t", visible, checked)
		}
	}
}
