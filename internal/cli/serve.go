package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lazypower/hush/internal/classifier"
	"github.com/lazypower/hush/internal/config"
	"github.com/lazypower/hush/internal/engine"
	"github.com/lazypower/hush/internal/llm"
	"github.com/lazypower/hush/internal/server"
	"github.com/lazypower/hush/internal/store"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := os.Getenv("HUSH_CONFIG")
	if cfgPath == "" {
		var err error
		cfgPath, err = config.DefaultPath()
		if err != nil {
			return fmt.Errorf("resolve config path: %w", err)
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	// Resolve database path
	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Build the classifier. Without an LLM it still runs — every
	// notification gets the deterministic fallback topic.
	var cls classifier.Classifier
	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: LLM not configured (%v), classifier running fallback-only\n", err)
		cls = classifier.NewLLM(nil)
	} else {
		cls = classifier.NewLLM(llmClient)
		fmt.Fprintf(os.Stderr, "  llm: %s\n", cfg.LLM.Provider)
	}

	eng := engine.New(db, cls, engine.Policy{
		InitialCooldownMinutes: cfg.Policy.InitialCooldownMinutes,
		CooldownMultiplier:     cfg.Policy.CooldownMultiplier,
		MaxCooldownMinutes:     cfg.Policy.MaxCooldownMinutes,
		MaxAttempts:            cfg.Policy.MaxAttempts,
		LookbackDays:           cfg.Policy.LookbackDays,
		MaxSampleMessages:      cfg.Policy.MaxSampleMessages,
		MaxRecentTrackers:      cfg.Policy.MaxRecentTrackers,
	})

	srv := server.New(db, eng, VersionString())
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "hush serving on %s\n", addr)
		fmt.Fprintf(os.Stderr, "  db: %s\n", dbPath)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
