// arenasqld is the cluster server binary: a PostgreSQL-wire endpoint over
// the embedded transactional SQL storage engine.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arenadb/arenasql/internal/cluster"
	"github.com/arenadb/arenasql/internal/config"
	"github.com/arenadb/arenasql/internal/kv"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "arenasqld",
		Short:         "arenasql cluster server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), checkpointCmd(), versionCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the cluster server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := buildLogger(debug)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			srv, err := cluster.New(cfg, log)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case sig := <-quit:
				log.Info("shutting down", zap.String("signal", sig.String()))
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				return srv.Shutdown(ctx)
			}
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "arenasql.toml", "path to the server configuration file")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func checkpointCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Write an offline backup of every catalog to the checkpoint directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.CheckpointDir == "" {
				return fmt.Errorf("checkpoint_dir is not configured")
			}
			entries, err := os.ReadDir(cfg.CatalogsDir())
			if err != nil {
				return err
			}
			millis := time.Now().UnixMilli()
			for _, e := range entries {
				if !e.IsDir() {
					continue
				}
				if err := checkpointCatalog(cfg, e.Name(), millis); err != nil {
					return fmt.Errorf("checkpoint catalog %s: %w", e.Name(), err)
				}
				fmt.Println("checkpointed", e.Name())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "arenasql.toml", "path to the server configuration file")
	return cmd
}

func checkpointCatalog(cfg *config.Config, name string, millis int64) error {
	backend, err := kv.OpenOnDisk(kv.Config{Dir: cfg.CatalogPath(name), CacheSizeMB: cfg.CacheSizeMB})
	if err != nil {
		return err
	}
	defer backend.Close()

	dir := filepath.Join(cfg.CheckpointDir, name, strconv.FormatInt(millis, 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(dir, "backup.bak"))
	if err != nil {
		return err
	}
	defer f.Close()
	if err := backend.Backup(context.Background(), f); err != nil {
		return err
	}
	return f.Sync()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("arenasqld", version)
		},
	}
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
