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

	_ "github.com/joho/godotenv/autoload"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/abhitoshanand/portfolio/config"
	"github.com/abhitoshanand/portfolio/content"
	"github.com/abhitoshanand/portfolio/server"
	"github.com/abhitoshanand/portfolio/storage"
	"github.com/abhitoshanand/portfolio/theme"
)

var (
	configPath  string
	listenAddr  string
	contentPath string
)

var rootCmd = &cobra.Command{
	Use:          "portfolio",
	Short:        "portfolio – personal portfolio website",
	Long:         "Serves a single-page portfolio with a remembered light/dark theme and scroll-reveal animations.",
	SilenceUsage: true,
	RunE:         runServe,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a content file",
	Long:  "Parse and validate a portfolio content file (or the built-in one) and print a summary.",
	RunE:  runCheck,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "portfolio.yaml", "Config file (optional)")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "Address to listen on, overrides the config")
	checkCmd.Flags().StringVar(&contentPath, "content", "", "Content file to check (default: content_path from config)")
	rootCmd.AddCommand(checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewDevelopmentConfig()
	if cfg.Mode == gin.ReleaseMode {
		zc = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	gin.SetMode(cfg.Mode)

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	src, err := content.NewSource(cfg.ContentPath, logger.Named("content"))
	if err != nil {
		return fmt.Errorf("load content: %w", err)
	}

	// Without a database the site still works; preferences just don't
	// outlive the process.
	opener := func(string) theme.Store { return nil }
	db, err := storage.Open(cfg.DatabasePath())
	if err != nil {
		logger.Error("database unavailable, theme preferences will not persist",
			zap.String("path", cfg.DatabasePath()), zap.Error(err))
		db = nil
	} else {
		defer db.Close()
		opener = func(profile string) theme.Store { return db.Preferences(profile) }
	}

	themes := theme.NewRegistry(opener, cfg.Theme.IdleTimeout, logger.Named("theme"))
	srv, err := server.New(server.Options{
		Config:  cfg,
		Content: src,
		Themes:  themes,
		DB:      db,
		Logger:  logger.Named("http"),
	})
	if err != nil {
		return err
	}
	engine, err := srv.Engine()
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Listen))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return themes.Run(ctx)
	})
	if cfg.WatchContent {
		g.Go(func() error {
			return src.Watch(ctx)
		})
	}
	if db != nil && cfg.Tracking.Enabled {
		g.Go(func() error {
			runVisitorCleanup(ctx, db, cfg.Tracking.Retention, logger)
			return nil
		})
	}

	err = g.Wait()
	srv.Wait()
	logger.Info("stopped")
	return err
}

// runVisitorCleanup purges expired visitor records at start and then daily.
func runVisitorCleanup(ctx context.Context, db *storage.DB, retention time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		n, err := db.CleanupVisitors(retention)
		if err != nil {
			logger.Warn("visitor cleanup failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("privacy cleanup removed old visitor records", zap.Int64("count", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	path := contentPath
	if path == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		path = cfg.ContentPath
	}

	p, err := content.Load(path)
	if err != nil {
		return err
	}

	source := path
	if source == "" {
		source = "built-in"
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s (%s)\n", source, p.Name, p.Headline)
	fmt.Fprintf(out, "  nav:        %d\n", len(p.Nav))
	fmt.Fprintf(out, "  education:  %d\n", len(p.Education))
	fmt.Fprintf(out, "  experience: %d\n", len(p.Experience))
	fmt.Fprintf(out, "  projects:   %d\n", len(p.Projects))
	return nil
}
