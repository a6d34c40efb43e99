package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentworkforce/tasksync/internal/config"
	"github.com/agentworkforce/tasksync/internal/document"
	"github.com/agentworkforce/tasksync/internal/remote"
	"github.com/agentworkforce/tasksync/internal/syncer"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func runCmd(opts *rootOptions) *cobra.Command {
	var mirror string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Keep the document in sync until interrupted",
		Long: `Run polls the active backend for remote changes, replays queued writes when
connectivity returns, follows the local server's change feed when it has one,
and reloads the config file when it changes. A reload rebuilds the backends
and applies conflict.policy and backup_before_write to later writes.

With --mirror, the document is written to that file at startup and again
whenever a remote change is adopted.

On unix, SIGUSR1 marks the app as backgrounded (polling pauses) and SIGUSR2
brings it back to the foreground.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := openApp(ctx, opts, cmd.ErrOrStderr(), true)
			if err != nil {
				return err
			}
			defer a.Close()
			return runDaemon(ctx, a, mirror)
		},
	}
	cmd.Flags().StringVarP(&mirror, "mirror", "o", "", "keep this file updated with the latest document")
	return cmd
}

type daemon struct {
	app     *app
	poller  *syncer.Poller
	monitor *syncer.Monitor
	reload  chan struct{}
	mirror  string
}

func newDaemon(a *app, mirror string) *daemon {
	cfg := a.cfg
	return &daemon{
		app: a,
		poller: syncer.NewPoller(a.orch, syncer.PollerOptions{
			Interval:    cfg.Poll.Interval,
			JitterRatio: cfg.Poll.Jitter,
			Debounce:    cfg.Poll.VisibilityDebounce,
			Logger:      a.logger,
		}),
		monitor: syncer.NewMonitor(a.orch, cfg.Poll.ConnectivityInterval, cfg.Timeouts.Request),
		reload:  make(chan struct{}, 1),
		mirror:  mirror,
	}
}

func runDaemon(ctx context.Context, a *app, mirror string) error {
	d := newDaemon(a, mirror)
	a.orch.Subscribe(d.observe)
	doc, err := a.orch.FetchData(ctx)
	if err != nil {
		a.logger.Printf("initial fetch failed: %v", err)
	}
	d.writeMirror(doc)
	d.monitor.Check(ctx)
	a.logger.Printf("sync running in %s mode: %s", a.orch.Mode(ctx), summarize(doc))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.poller.Run(gctx) })
	g.Go(func() error { return d.monitor.Run(gctx) })
	g.Go(func() error { return d.followChanges(gctx) })
	g.Go(func() error {
		watchVisibility(gctx, d.poller, a.logger)
		return nil
	})
	if a.configPath != "" {
		g.Go(func() error {
			err := config.Watch(gctx, a.configPath, 0, func() { d.reloadConfig(gctx) })
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Printf("config watch stopped: %v", err)
			}
			return nil
		})
	}

	err = g.Wait()
	a.logger.Printf("sync stopping: %v", ctx.Err())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// reloadConfig rebuilds the adapters from the config file, forces mode
// selection to run again and applies the write settings. Poll and storage
// settings still need a restart.
func (d *daemon) reloadConfig(ctx context.Context) {
	cfg, err := config.Load(d.app.configPath)
	if err != nil {
		d.app.logger.Printf("config reload failed: %v", err)
		return
	}
	policy, err := syncer.ParseResolution(cfg.Conflict.Policy)
	if err != nil {
		d.app.logger.Printf("config reload failed: %v", err)
		return
	}
	stores, err := remote.BuildStores(ctx, cfg.RemoteOptions())
	if err != nil {
		d.app.logger.Printf("config reload failed: %v", err)
		return
	}
	d.app.orch.SetResolver(syncer.PolicyResolver(policy))
	d.app.orch.SetBackupBeforeWrite(cfg.BackupBeforeWrite)
	d.app.orch.SetStores(stores)
	d.app.logger.Printf("config reloaded: %d backend(s) configured, mode %s, conflict policy %s", len(stores), d.app.orch.Mode(ctx), policy)
	select {
	case d.reload <- struct{}{}:
	default:
	}
	d.poller.Trigger(ctx)
}

// observe runs whenever remote state replaces the in-memory document.
func (d *daemon) observe(doc document.Document) {
	d.app.logger.Printf("remote change adopted: %s", summarize(doc))
	d.writeMirror(doc)
}

func (d *daemon) writeMirror(doc document.Document) {
	if d.mirror == "" {
		return
	}
	data, err := document.EncodeIndent(doc)
	if err != nil {
		d.app.logger.Printf("mirror encode failed: %v", err)
		return
	}
	if err := os.WriteFile(d.mirror, append(data, '\n'), 0o644); err != nil {
		d.app.logger.Printf("mirror write failed: %v", err)
	}
}

// summarize describes a document in one line for the log.
func summarize(doc document.Document) string {
	dates := doc.SortedDates()
	switch len(dates) {
	case 0:
		return fmt.Sprintf("%d tab(s), no dated entries", len(doc.Tabs))
	case 1:
		return fmt.Sprintf("%d tab(s), 1 day (%s)", len(doc.Tabs), dates[0])
	}
	return fmt.Sprintf("%d tab(s), %d days (%s to %s)", len(doc.Tabs), len(dates), dates[0], dates[len(dates)-1])
}

// followChanges subscribes to the active backend's change feed, if it has
// one, and turns every notification into an immediate check. The
// subscription restarts after a failure or a credential reload.
func (d *daemon) followChanges(ctx context.Context) error {
	retry := d.app.cfg.Poll.ConnectivityInterval
	if retry <= 0 {
		retry = syncer.DefaultConnectivityInterval
	}
	for {
		_, store := d.app.selector.DetermineSyncMode(ctx)
		notifier, ok := store.(remote.ChangeNotifier)
		if !ok {
			if err := d.waitForRetry(ctx, retry); err != nil {
				return err
			}
			continue
		}

		watchCtx, cancel := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() {
			errCh <- notifier.WatchChanges(watchCtx, func() { d.poller.Trigger(ctx) })
		}()
		select {
		case <-ctx.Done():
			cancel()
			<-errCh
			return ctx.Err()
		case <-d.reload:
			cancel()
			<-errCh
		case err := <-errCh:
			cancel()
			if err != nil {
				d.app.logger.Printf("change feed closed: %v", err)
			}
			d.app.orch.InvalidateMode()
			if err := d.waitForRetry(ctx, retry); err != nil {
				return err
			}
		}
	}
}

func (d *daemon) waitForRetry(ctx context.Context, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.reload:
		return nil
	case <-timer.C:
		return nil
	}
}
