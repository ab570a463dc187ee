// Package main provides the CLI entrypoint for issuesync.
package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/memolab/issuesync/internal/config"
	"github.com/memolab/issuesync/internal/logger"
	"github.com/memolab/issuesync/internal/remote"
	"github.com/memolab/issuesync/internal/search"
	"github.com/memolab/issuesync/internal/store"
	"github.com/memolab/issuesync/internal/sync"
	"github.com/memolab/issuesync/internal/webhook"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "issuesync",
	Short: "Synchronize local project boards with GitHub issues",
	Long: `issuesync keeps a locally-owned issue store and a GitHub repository's
issues consistent: it pulls remote changes in, pushes stale local issues
out, and serves a webhook endpoint for event-triggered syncs.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	Long: `Serve the GitHub webhook endpoint. Inbound issue, comment and
installation events are validated against each project's webhook secret and
dispatched to the sync engine.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var syncCmd = &cobra.Command{
	Use:   "sync <project-id>",
	Short: "Run a full sync pass for a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runSync,
}

var pushCmd = &cobra.Command{
	Use:   "push <issue-id>",
	Short: "Push a single local issue to GitHub",
	Args:  cobra.ExactArgs(1),
	RunE:  runPush,
}

var pullCmd = &cobra.Command{
	Use:   "pull <project-id> <issue-number>",
	Short: "Pull a single GitHub issue into a project",
	Args:  cobra.ExactArgs(2),
	RunE:  runPull,
}

var linkCmd = &cobra.Command{
	Use:   "link <project-id> <owner/repo> <installation-id>",
	Short: "Link a project to a GitHub repository",
	Args:  cobra.ExactArgs(3),
	RunE:  runLink,
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink <project-id>",
	Short: "Unlink a project from its GitHub repository",
	Long: `Clear a project's repository linkage and delete its sync records.
Local issues and comments are kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runUnlink,
}

var statusCmd = &cobra.Command{
	Use:   "status <project-id>",
	Short: "Show the sync state of a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var (
	syncComments bool
	syncLabels   bool
	initialSync  bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	syncCmd.Flags().BoolVar(&syncComments, "comments", true, "sync issue comments")
	syncCmd.Flags().BoolVar(&syncLabels, "labels", true, "sync issue labels")
	syncCmd.Flags().BoolVar(&initialSync, "initial", false, "inbound-only initial import")

	rootCmd.AddCommand(serveCmd, syncCmd, pushCmd, pullCmd, linkCmd, unlinkCmd, statusCmd)
}

// setup loads configuration and wires the service.
func setup() (*config.Config, *sync.Service, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.SetLevel(level)
	if cfg.LogFile != "" {
		if err := logger.SetLogFile(cfg.LogFile); err != nil {
			return nil, nil, nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, nil, err
	}

	factory := &remote.TokenFactory{
		Tokens:       cfg.GitHub.InstallationTokens,
		DefaultToken: cfg.GitHub.Token,
	}
	service := sync.NewService(st, factory, search.NewTrigger(cfg.SearchRefreshURL))

	cleanup := func() {
		if err := st.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to close store: %v\n", err)
		}
		logger.Close()
	}
	return cfg, service, cleanup, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, service, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	mux := http.NewServeMux()
	mux.Handle("/webhooks/github", webhook.NewDispatcher(service, cfg.GitHub.WebhookSecret))

	logger.Info("serve: listening on %s", cfg.ListenAddr)
	return http.ListenAndServe(cfg.ListenAddr, mux)
}

func runSync(cmd *cobra.Command, args []string) error {
	_, service, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	result := service.SyncProject(cmd.Context(), args[0], sync.Options{
		SyncComments: syncComments,
		SyncLabels:   syncLabels,
		InitialSync:  initialSync,
	})
	if !result.Success {
		return fmt.Errorf("sync failed: %s", result.Error)
	}

	fmt.Printf("synced: %d created locally, %d updated locally, %d created on GitHub, %d updated on GitHub, %d comments\n",
		result.Synced.IssuesCreatedLocal,
		result.Synced.IssuesUpdatedLocal,
		result.Synced.IssuesCreatedRemote,
		result.Synced.IssuesUpdatedRemote,
		result.Synced.CommentsCreated,
	)
	for _, c := range result.Conflicts {
		id := c.IssueID
		if id == "" {
			id = fmt.Sprintf("#%d", c.RemoteNumber)
		}
		fmt.Fprintf(os.Stderr, "conflict %s: %s\n", id, c.Description)
	}
	return nil
}

func runPush(cmd *cobra.Command, args []string) error {
	_, service, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	pushed, err := service.PushIssue(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !pushed {
		fmt.Println("issue skipped: not linked and sync is disabled")
		return nil
	}
	fmt.Println("issue pushed")
	return nil
}

func runPull(cmd *cobra.Command, args []string) error {
	_, service, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	number, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid issue number %q", args[1])
	}
	if err := service.PullIssue(cmd.Context(), args[0], number); err != nil {
		return err
	}
	fmt.Println("issue pulled")
	return nil
}

func runLink(cmd *cobra.Command, args []string) error {
	_, service, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := service.LinkRepository(cmd.Context(), args[0], args[1], args[2]); err != nil {
		return err
	}
	fmt.Printf("linked project %s to %s\n", args[0], args[1])
	fmt.Println("run an initial sync with: issuesync sync --initial " + args[0])
	return nil
}

func runUnlink(cmd *cobra.Command, args []string) error {
	_, service, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := service.UnlinkRepository(args[0]); err != nil {
		return err
	}
	fmt.Printf("unlinked project %s\n", args[0])
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, service, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	s, err := service.SyncStatus(args[0])
	if err != nil {
		return err
	}

	if !s.IsLinked {
		fmt.Println("not linked to a GitHub repository")
		return nil
	}
	fmt.Printf("repository:    %s\n", s.RepoName)
	fmt.Printf("sync enabled:  %v\n", s.SyncEnabled)
	if s.LastSyncAt.IsZero() {
		fmt.Println("last sync:     never")
	} else {
		fmt.Printf("last sync:     %s\n", s.LastSyncAt.Local())
	}
	fmt.Printf("issues:        %d total, %d synced\n", s.TotalIssues, s.SyncedIssues)
	return nil
}
