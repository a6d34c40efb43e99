package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/agentworkforce/tasksync/internal/config"
	"github.com/agentworkforce/tasksync/internal/document"
	"github.com/agentworkforce/tasksync/internal/remote"
	"github.com/agentworkforce/tasksync/internal/syncer"
	"github.com/spf13/cobra"
)

func pullCmd(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Fetch the document from the active backend and print it",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, true, func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			doc, err := a.orch.FetchData(ctx)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "showing last known data: %s\n", firstNonEmpty(syncer.UserMessage(err), err.Error()))
			}
			data, encErr := document.EncodeIndent(doc)
			if encErr != nil {
				return encErr
			}
			if output == "" || output == "-" {
				_, err := cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			return os.WriteFile(output, append(data, '\n'), 0o644)
		}),
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func pushCmd(opts *rootOptions) *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "push <file>",
		Short: "Replace the document with the contents of a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, true, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			doc, err := document.Decode(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if _, err := a.orch.FetchData(ctx); err != nil {
				a.logger.Printf("fetch before push failed: %v", err)
			}
			return printOutcome(cmd.OutOrStdout(), label, a.orch.UpdateData(ctx, doc, label))
		}),
	}
	cmd.Flags().StringVar(&label, "label", "import", "operation label")
	return cmd
}

func modeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mode",
		Short: "Probe configured backends and print the selected sync mode",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, false, func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			out := cmd.OutOrStdout()
			mode := a.orch.Mode(ctx)
			fmt.Fprintf(out, "mode: %s (%s)\n", mode, syncer.DisplayName(mode))
			configured := a.cfg.ConfiguredModes()
			if len(configured) == 0 {
				fmt.Fprintln(out, "configured: none")
				return nil
			}
			names := make([]string, 0, len(configured))
			for _, m := range configured {
				names = append(names, string(m))
			}
			fmt.Fprintf(out, "configured: %s\n", strings.Join(names, ", "))
			if version := a.orch.Version(); version != "" {
				fmt.Fprintf(out, "version: %s\n", version)
			}
			return nil
		}),
	}
}

func queueCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or manage writes waiting for connectivity",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending operations, oldest first",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, false, func(_ context.Context, cmd *cobra.Command, a *app, _ []string) error {
			ops := a.orch.PendingOperations()
			if len(ops) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no pending operations")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d/%d pending\n", len(ops), a.orch.QueueCapacity())
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tLABEL\tQUEUED")
			for _, op := range ops {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", op.ID, op.Label, op.Timestamp.Format(time.RFC3339))
			}
			return tw.Flush()
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "replay",
		Short: "Replay pending operations against the active backend",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, false, func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			replayed, err := a.orch.ProcessQueue(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d operation(s), %d pending\n", replayed, len(a.orch.PendingOperations()))
			return err
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every pending operation",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, false, func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			if err := a.orch.ClearQueue(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "queue cleared")
			return nil
		}),
	})
	return cmd
}

func errorsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Inspect the recent sync error log",
	}
	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded errors, oldest first",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, false, func(_ context.Context, cmd *cobra.Command, a *app, _ []string) error {
			entries := a.orch.Errors()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no errors recorded")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tMODE\tOP\tKIND\tMESSAGE")
			for _, entry := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", entry.Time.Format(time.RFC3339), entry.Mode, entry.Op, entry.Kind, entry.Message)
			}
			return tw.Flush()
		}),
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	cmd.AddCommand(list)
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Empty the error log",
		Args:  cobra.NoArgs,
		RunE: withApp(opts, false, func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			if err := a.orch.ClearErrors(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "error log cleared")
			return nil
		}),
	})
	return cmd
}

// credentialFlags collects every backend's settings; only the flags for
// the backend named on the command line are read.
type credentialFlags struct {
	url          string
	token        string
	path         string
	refreshToken string
	clientID     string
	clientSecret string
	fileName     string
	folderID     string
	fileID       string
	apiKey       string
	owner        string
	repo         string
	branch       string
}

func (f credentialFlags) credentials(mode remote.Mode) (config.Credentials, error) {
	var creds config.Credentials
	switch mode {
	case remote.ModeLocalServer:
		if f.url == "" {
			return creds, fmt.Errorf("--url is required for %s", mode)
		}
		creds.LocalServer = &config.LocalServerCredentials{URL: f.url}
	case remote.ModeDropbox:
		if f.token == "" {
			return creds, fmt.Errorf("--token is required for %s", mode)
		}
		creds.Dropbox = &config.DropboxCredentials{AccessToken: f.token, Path: f.path}
	case remote.ModeGoogleDrive:
		if f.token == "" && f.refreshToken == "" {
			return creds, fmt.Errorf("--token or --refresh-token is required for %s", mode)
		}
		creds.GoogleDrive = &config.GoogleDriveCredentials{
			AccessToken:  f.token,
			RefreshToken: f.refreshToken,
			ClientID:     f.clientID,
			ClientSecret: f.clientSecret,
			FileName:     f.fileName,
			FolderID:     f.folderID,
		}
	case remote.ModeGoogleDrivePublic:
		if f.fileID == "" || f.apiKey == "" {
			return creds, fmt.Errorf("--file-id and --api-key are required for %s", mode)
		}
		creds.GoogleDrivePublic = &config.GoogleDrivePublicCredentials{FileID: f.fileID, APIKey: f.apiKey}
	case remote.ModeGitHub:
		if f.token == "" || f.owner == "" || f.repo == "" {
			return creds, fmt.Errorf("--token, --owner and --repo are required for %s", mode)
		}
		creds.GitHub = &config.GitHubCredentials{Token: f.token, Owner: f.owner, Repo: f.repo, Path: f.path, Branch: f.branch}
	default:
		return creds, fmt.Errorf("%s takes no credentials", mode)
	}
	return creds, nil
}

func credentialsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Save or clear backend credentials",
	}

	var flags credentialFlags
	set := &cobra.Command{
		Use:   "set <mode>",
		Short: "Save credentials for one backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := remote.ParseMode(args[0])
			if err != nil {
				return err
			}
			creds, err := flags.credentials(mode)
			if err != nil {
				return err
			}
			if err := config.SaveCredentials(opts.configPath, creds); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s credentials to %s\n", mode, opts.configPath)
			return nil
		},
	}
	set.Flags().StringVar(&flags.url, "url", "", "local server base URL")
	set.Flags().StringVar(&flags.token, "token", "", "access token")
	set.Flags().StringVar(&flags.path, "path", "", "remote file path")
	set.Flags().StringVar(&flags.refreshToken, "refresh-token", "", "Google Drive refresh token")
	set.Flags().StringVar(&flags.clientID, "client-id", "", "Google Drive OAuth client ID")
	set.Flags().StringVar(&flags.clientSecret, "client-secret", "", "Google Drive OAuth client secret")
	set.Flags().StringVar(&flags.fileName, "file-name", "", "Google Drive file name")
	set.Flags().StringVar(&flags.folderID, "folder-id", "", "Google Drive folder ID")
	set.Flags().StringVar(&flags.fileID, "file-id", "", "public Google Drive file ID")
	set.Flags().StringVar(&flags.apiKey, "api-key", "", "Google API key")
	set.Flags().StringVar(&flags.owner, "owner", "", "GitHub repository owner")
	set.Flags().StringVar(&flags.repo, "repo", "", "GitHub repository name")
	set.Flags().StringVar(&flags.branch, "branch", "", "GitHub branch")
	cmd.AddCommand(set)

	cmd.AddCommand(&cobra.Command{
		Use:   "clear [mode]",
		Short: "Remove credentials for one backend, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var mode remote.Mode
			if len(args) == 1 {
				parsed, err := remote.ParseMode(args[0])
				if err != nil {
					return err
				}
				mode = parsed
			}
			if err := config.ClearCredentials(opts.configPath, mode); err != nil {
				return err
			}
			if mode == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "cleared all credentials")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s credentials\n", mode)
			}
			return nil
		},
	})
	return cmd
}

func taskCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Edit the tasks of a day",
	}
	var date string
	cmd.PersistentFlags().StringVar(&date, "date", "", "day to edit (YYYY-MM-DD, default today)")

	var priority bool
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(opts, true, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			name := strings.Join(args, " ")
			return mutate(ctx, cmd, a, "Add task", func(doc *document.Document) error {
				return doc.AddTask(resolveDate(date, time.Now()), name, priority)
			})
		}),
	}
	add.Flags().BoolVar(&priority, "priority", false, "mark as a priority task")
	cmd.AddCommand(add)

	var undo bool
	done := &cobra.Command{
		Use:   "done <index>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, true, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			return mutate(ctx, cmd, a, "Toggle task", func(doc *document.Document) error {
				return doc.SetTaskCompleted(resolveDate(date, time.Now()), index, !undo)
			})
		}),
	}
	done.Flags().BoolVar(&undo, "undo", false, "mark as not completed")
	cmd.AddCommand(done)

	var clearPriority bool
	prio := &cobra.Command{
		Use:   "priority <index>",
		Short: "Mark a task as priority (at most three per day)",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, true, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			return mutate(ctx, cmd, a, "Toggle priority", func(doc *document.Document) error {
				return doc.SetTaskPriority(resolveDate(date, time.Now()), index, !clearPriority)
			})
		}),
	}
	prio.Flags().BoolVar(&clearPriority, "clear", false, "remove the priority mark")
	cmd.AddCommand(prio)
	return cmd
}

func disciplineCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discipline",
		Short: "Edit the disciplines of a day",
	}
	var (
		date  string
		unset bool
	)
	set := &cobra.Command{
		Use:   "set <index>",
		Short: "Mark a discipline done",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(opts, true, func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			index, err := parseIndex(args[0])
			if err != nil {
				return err
			}
			return mutate(ctx, cmd, a, "Toggle discipline", func(doc *document.Document) error {
				return doc.SetDiscipline(resolveDate(date, time.Now()), index, !unset)
			})
		}),
	}
	set.Flags().StringVar(&date, "date", "", "day to edit (YYYY-MM-DD, default today)")
	set.Flags().BoolVar(&unset, "unset", false, "mark as not done")
	cmd.AddCommand(set)
	return cmd
}

// mutate edits the freshest document available and saves it under label.
func mutate(ctx context.Context, cmd *cobra.Command, a *app, label string, edit func(*document.Document) error) error {
	doc, err := a.orch.FetchData(ctx)
	if err != nil {
		a.logger.Printf("fetch before %q failed, editing last known data: %v", label, err)
	}
	doc.EnsureDefaultTab()
	if err := edit(&doc); err != nil {
		return err
	}
	return printOutcome(cmd.OutOrStdout(), label, a.orch.UpdateData(ctx, doc, label))
}

func resolveDate(raw string, now time.Time) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return document.DateKey(now)
	}
	return raw
}

func parseIndex(raw string) (int, error) {
	index, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || index < 0 {
		return 0, fmt.Errorf("invalid index %q", raw)
	}
	return index, nil
}
