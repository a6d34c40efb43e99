//go:build !unix

package main

import (
	"context"
	"log"

	"github.com/agentworkforce/tasksync/internal/syncer"
)

// watchVisibility has no signal source here; the app stays in the
// foreground.
func watchVisibility(ctx context.Context, _ *syncer.Poller, _ *log.Logger) {
	<-ctx.Done()
}
