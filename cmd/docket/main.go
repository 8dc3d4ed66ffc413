// docket: curated documentation delivery for AI agents
//
// An MCP server that resolves content expressions such as
// "docs,review/commit" against a project's documentation catalog and
// delivers the documents, cached per session.
//
// Usage:
//
//	docket serve                  # Start MCP server (stdio transport)
//	docket resolve <expression>   # Resolve once and print the documents
//	docket cache stats|purge      # Inspect or empty the persistent cache
//	docket version [--check]
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/HendryAvila/docket/internal/cache"
	"github.com/HendryAvila/docket/internal/catalog"
	"github.com/HendryAvila/docket/internal/config"
	"github.com/HendryAvila/docket/internal/expr"
	"github.com/HendryAvila/docket/internal/resolve"
	docketserver "github.com/HendryAvila/docket/internal/server"
	"github.com/HendryAvila/docket/internal/updater"
)

var (
	// Global flags
	configPath string
	envFile    string
	verbose    bool

	cfg    config.Config
	logger *zap.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "docket",
		Short: "Curated documentation delivery for AI agents",
		Long: `docket is an MCP server that delivers project documentation to AI agents.

Documents are declared in .docket/catalog.yaml as categories (local files,
files on the agent's machine, HTTPS pages) and collections. Agents load them
with expressions such as "docs,review/commit" or "guidelines+conventions".`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err = newLogger(cfg.Log.Level, verbose)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to the config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file loaded before the config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(resolveCmd())
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger writes JSON logs to stderr: stdout belongs to the MCP stdio
// transport.
func newLogger(level string, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	l, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return l, nil
}

func serveCmd() *cobra.Command {
	var projectRoot string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server (stdio transport)",
		Long: `Start the MCP server on stdin/stdout.

Add to your AI tool's MCP config:

  {
    "mcpServers": {
      "docket": {
        "command": "docket",
        "args": ["serve"]
      }
    }
  }`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectRoot == "" {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("getting working directory: %w", err)
				}
				projectRoot = wd
			}

			s, cleanup, err := docketserver.New(docketserver.Options{
				Config:      cfg,
				Logger:      logger,
				ProjectRoot: projectRoot,
			})
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			defer cleanup()

			logger.Info("serving",
				zap.String("version", docketserver.Version),
				zap.String("project_root", projectRoot),
				zap.String("config", cfg.Path))
			return server.ServeStdio(s)
		},
	}

	cmd.Flags().StringVar(&projectRoot, "project", "", "Project bound to new sessions (default: working directory)")
	return cmd
}

func resolveCmd() *cobra.Command {
	var projectRoot string
	var filename string

	cmd := &cobra.Command{
		Use:   "resolve [expression]",
		Short: "Resolve an expression once and print the documents",
		Long: `Resolve an expression against a project's catalog and print the
documents to stdout. Client documents are unavailable outside an MCP
session and are reported as not delivered.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectRoot == "" {
				projectRoot = "."
			}
			catalogs, err := catalog.NewFileStore()
			if err != nil {
				return err
			}
			cat, err := catalogs.Load(projectRoot)
			if errors.Is(err, catalog.ErrNotFound) {
				return fmt.Errorf("no catalog at %s", catalog.Path(projectRoot))
			}
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, closeStore := sessionCache()
			defer closeStore()
			sess := resolve.NewSession("cli", cfg.Policy(), c)
			sess.SetClientCwd(cat.Root)
			sess.SwitchProject(cat)
			defer sess.Close()

			res, err := docketserver.NewResolver(cfg, logger).Resolve(ctx, sess, resolve.Request{Expression: args[0], Filename: filename})
			var pe *expr.ParseError
			if errors.As(err, &pe) {
				return fmt.Errorf("invalid expression: %w", pe)
			}
			if err != nil {
				return err
			}
			return printResult(cmd, res)
		},
	}

	cmd.Flags().StringVar(&projectRoot, "project", "", "Project root (default: working directory)")
	cmd.Flags().StringVar(&filename, "filename", "", "Glob replacing the default patterns of plain category terms")
	return cmd
}

// sessionCache returns the cache for a one-shot resolution, backed by the
// persistent store when it is enabled.
func sessionCache() (*cache.Cache, func()) {
	opts := cache.Options{Logger: logger.Named("cache")}
	if !cfg.Cache.Persistent {
		return cache.New(opts), func() {}
	}
	store, err := cache.OpenSQLite(cfg.Cache.Dir)
	if err != nil {
		logger.Warn("persistent cache disabled", zap.Error(err))
		return cache.New(opts), func() {}
	}
	opts.Store = store
	return cache.New(opts), func() { _ = store.Close() }
}

func printResult(cmd *cobra.Command, res *resolve.Result) error {
	out := cmd.OutOrStdout()
	for _, d := range res.Documents {
		fmt.Fprintf(out, "==> %s (%s, %s)\n%s\n", d.Locator, d.Category, d.Source, d.Content)
	}
	errOut := cmd.ErrOrStderr()
	for _, f := range res.Failures {
		target := f.Term
		if f.Locator != "" {
			target = f.Locator
		}
		fmt.Fprintf(errOut, "not delivered: %s (%s): %s\n", target, f.Kind, f.Reason)
		if f.Hint != "" {
			fmt.Fprintf(errOut, "  hint: %s\n", f.Hint)
		}
	}
	if len(res.Documents) == 0 && len(res.Failures) > 0 {
		return errors.New("no documents delivered")
	}
	return nil
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or empty the persistent document cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show persistent cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *cache.SQLiteStore) error {
				st, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "path:      %s\nrows:      %d\ndocuments: %d\nfailures:  %d\nbytes:     %d\n",
					st.Path, st.Rows, st.Positive, st.Negative, st.Bytes)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete every persisted document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(store *cache.SQLiteStore) error {
				n, err := store.Purge(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d rows from %s\n", n, store.Path())
				return nil
			})
		},
	})

	return cmd
}

func withStore(fn func(*cache.SQLiteStore) error) error {
	store, err := cache.OpenSQLite(cfg.Cache.Dir)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing persistent cache", zap.Error(err))
		}
	}()
	return fn(store)
}

func versionCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "docket v%s\n", docketserver.Version)
			if !check {
				return nil
			}
			res, err := updater.Checker{Logger: logger.Named("updater")}.Check(cmd.Context(), docketserver.Version)
			if err != nil {
				return fmt.Errorf("checking for updates: %w", err)
			}
			if res.UpdateAvailable {
				fmt.Fprintf(out, "docket v%s is available: %s\n", res.LatestVersion, res.ReleaseURL)
			} else {
				fmt.Fprintln(out, "up to date")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Check GitHub for a newer release")
	return cmd
}
