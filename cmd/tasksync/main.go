package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/agentworkforce/tasksync/internal/config"
	"github.com/agentworkforce/tasksync/internal/kvstore"
	"github.com/agentworkforce/tasksync/internal/remote"
	"github.com/agentworkforce/tasksync/internal/syncer"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "tasksync",
		Short:         "Synchronize the task and discipline document with its backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath(), "config file path")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "also log to stderr")

	root.AddCommand(runCmd(opts))
	root.AddCommand(pullCmd(opts))
	root.AddCommand(pushCmd(opts))
	root.AddCommand(modeCmd(opts))
	root.AddCommand(queueCmd(opts))
	root.AddCommand(errorsCmd(opts))
	root.AddCommand(credentialsCmd(opts))
	root.AddCommand(taskCmd(opts))
	root.AddCommand(disciplineCmd(opts))
	return root
}

// app is the wiring shared by every command: config, local storage, the
// backend selector and the orchestrator on top of them.
type app struct {
	configPath string
	cfg        *config.Config
	storage    kvstore.Store
	selector   *syncer.ModeSelector
	orch       *syncer.Orchestrator
	logger     *log.Logger
	logFile    io.Closer
}

// openApp wires everything for one command. hydrate restores the local
// backup and replays queued writes.
func openApp(ctx context.Context, opts *rootOptions, stderr io.Writer, hydrate bool) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	var extra io.Writer
	if opts.verbose {
		extra = stderr
	}
	logger, logFile := newLogger(cfg.Log, extra)

	storage, err := kvstore.Open(cfg.Storage)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("open local storage %s: %w", cfg.Storage, err)
	}
	stores, err := remote.BuildStores(ctx, cfg.RemoteOptions())
	if err != nil {
		storage.Close()
		logFile.Close()
		return nil, err
	}
	policy, err := syncer.ParseResolution(cfg.Conflict.Policy)
	if err != nil {
		storage.Close()
		logFile.Close()
		return nil, err
	}

	selector := syncer.NewModeSelector(stores, logger)
	orch, err := syncer.NewOrchestrator(ctx, syncer.Options{
		Selector:          selector,
		Storage:           storage,
		Resolver:          syncer.PolicyResolver(policy),
		Notifier:          syncer.NotifierFunc(func(message string) { fmt.Fprintln(stderr, message) }),
		Logger:            logger,
		BackupBeforeWrite: cfg.BackupBeforeWrite,
	})
	if err != nil {
		storage.Close()
		logFile.Close()
		return nil, err
	}
	if hydrate {
		orch.Hydrate(ctx)
	}
	return &app{
		configPath: opts.configPath,
		cfg:        cfg,
		storage:    storage,
		selector:   selector,
		orch:       orch,
		logger:     logger,
		logFile:    logFile,
	}, nil
}

func (a *app) Close() error {
	err := a.storage.Close()
	if closeErr := a.logFile.Close(); err == nil {
		err = closeErr
	}
	return err
}

// newLogger writes to a rotating file under the data dir, plus extra when
// set.
func newLogger(cfg config.LogConfig, extra io.Writer) (*log.Logger, io.Closer) {
	rotating := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	var out io.Writer = rotating
	if extra != nil {
		out = io.MultiWriter(extra, rotating)
	}
	return log.New(out, "tasksync ", log.LstdFlags|log.Lmsgprefix), rotating
}

func withApp(opts *rootOptions, hydrate bool, fn func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := openApp(ctx, opts, cmd.ErrOrStderr(), hydrate)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, cmd, a, args)
	}
}

func printOutcome(w io.Writer, label string, outcome syncer.Outcome) error {
	switch outcome.Status {
	case syncer.StatusDone:
		fmt.Fprintf(w, "%s: saved to %s\n", label, syncer.DisplayName(outcome.Mode))
	case syncer.StatusQueued:
		fmt.Fprintf(w, "%s: offline, queued for later\n", label)
	case syncer.StatusSkipped:
		fmt.Fprintf(w, "%s: another save is in progress, kept locally\n", label)
	case syncer.StatusLocalOnly:
		fmt.Fprintf(w, "%s: saved locally\n", label)
	case syncer.StatusNotPersisted:
		fmt.Fprintf(w, "%s: %s is read-only, saved locally\n", label, syncer.DisplayName(outcome.Mode))
	case syncer.StatusConflictRefetched:
		fmt.Fprintf(w, "%s: remote changed, local edit discarded and latest data loaded\n", label)
	case syncer.StatusForced:
		fmt.Fprintf(w, "%s: remote changed, overwritten with local data\n", label)
	case syncer.StatusFailed:
		if outcome.Queued {
			fmt.Fprintf(w, "%s: %s; queued for retry\n", label, firstNonEmpty(outcome.Message, "save failed"))
			return nil
		}
		return fmt.Errorf("%s failed: %s", label, firstNonEmpty(outcome.Message, errString(outcome.Err)))
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
