package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"edumate-rag/internal/api"
	"edumate-rag/internal/config"
	"edumate-rag/internal/helper"
	"edumate-rag/internal/watcher"
)

const (
	defaultConfigPath = "./configs/config.yaml"
	shutdownTimeout   = 5 * time.Second
	lowChunkWarning   = 100
)

var cfgPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "edumate",
		Short:         "Course materials question answering over a vector index",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigPath, "path to the YAML config file (optional)")

	root.AddCommand(
		newServeCmd(),
		newIndexCmd(),
		newQueryCmd(),
		newCountCmd(),
		newExportCmd(),
		newImportCmd(),
		newMCPCmd(),
	)
	return root
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	if cfg.Server.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Debug().Interface("config", cfg.Redacted()).Msg("Loaded config")
	return cfg, nil
}

// withApp loads the config, builds the app and hands it to fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, runServe)
		},
	}
}

func runServe(ctx context.Context, a *app) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           api.NewHandler(a.apiDeps()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("EduMate API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if a.cfg.Server.Watch {
		w := watcher.New(a.loader.Folder(), a.loader.Supports, a.indexer)
		g.Go(func() error {
			return w.Run(gCtx)
		})
	}
	return g.Wait()
}

func newIndexCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index every document in the course materials folder",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				report, err := a.indexer.IndexPDFs(ctx, reset)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d chunks from %d files (%d failed)\n", report.Indexed, report.Files, report.Failed)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "empty the collection before indexing")
	return cmd
}

func newQueryCmd() *cobra.Command {
	var (
		session string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Ask one question from the command line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				result, err := a.rag.Query(ctx, session, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return helper.PrettyPrint(out, result)
				}
				fmt.Fprintf(out, "%s\n\n", result.Answer)
				if len(result.Sources) > 0 {
					fmt.Fprintf(out, "Sources: %v\n", result.Sources)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "conversation session id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

func newCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print how many chunks are indexed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				info, err := a.store.Info(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Total chunks in %s: %d\n", info.Name, info.Count)
				switch {
				case info.Count == 0:
					return errors.New("collection is empty, run the index command")
				case info.Count < lowChunkWarning:
					log.Warn().Int("count", info.Count).Msg("Very few chunks, check the course materials")
				}
				return nil
			})
		},
	}
}

func newExportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the chromem collection to a file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(_ context.Context, a *app) error {
				if a.chromem == nil {
					return errors.New("export is only supported on the chromem backend")
				}
				if err := a.chromem.Export(file, a.cfg.VectorStore.EncryptionKey); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported collection to %s\n", file)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "./assets/course_materials.gob", "destination file")
	return cmd
}

func newImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the chromem collection with an exported file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(file); err != nil {
				return fmt.Errorf("cannot read %s: %w", file, err)
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if a.chromem == nil {
					return errors.New("import is only supported on the chromem backend")
				}
				if err := a.chromem.Import(file, a.cfg.VectorStore.EncryptionKey); err != nil {
					return err
				}
				info, err := a.store.Info(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d chunks from %s\n", info.Count, file)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "./assets/course_materials.gob", "source file")
	return cmd
}

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(_ context.Context, a *app) error {
				log.Info().Msg("EduMate MCP server starting on stdio")
				return server.ServeStdio(api.NewMCPServer(a.apiDeps(), version))
			})
		},
	}
}
