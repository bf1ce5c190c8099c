package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lewisai/lewis/internal/agents"
	"github.com/lewisai/lewis/internal/cbr"
	"github.com/lewisai/lewis/internal/config"
	"github.com/lewisai/lewis/internal/controlplane"
	"github.com/lewisai/lewis/internal/llm"
	"github.com/lewisai/lewis/internal/orchestrator"
	"github.com/lewisai/lewis/internal/sandbox"
	"github.com/lewisai/lewis/internal/scheduler"
	"github.com/lewisai/lewis/internal/storage"
	"github.com/lewisai/lewis/internal/store"
)

var (
	configPath string
	listenAddr string
	dbPath     string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the lewis daemon (lewisd)",
	Long:  `Starts the lewis daemon: the HTTP API, the execution engine, and the async worker pool.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file")
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (overrides config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log.Println("Starting lewis daemon...")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.APIAddr = listenAddr
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	s, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}

	objects, err := storage.NewFileStore(cfg.DataDir)
	if err != nil {
		s.Close()
		return err
	}

	client := llm.NewFromConfig(cfg.LLM)
	runner := sandbox.New(cfg.Sandbox.Interpreter, time.Duration(cfg.Sandbox.TimeoutSec)*time.Second)
	cases := cbr.New(s, client)

	search := agents.NewGoogleSearchTool(os.Getenv("GOOGLE_API_KEY"), os.Getenv("GOOGLE_CSE_ID"))
	weatherAPI := agents.NewWeatherAPITool(os.Getenv("WEATHER_API_KEY"))

	registry := agents.NewRegistry()
	registry.Register(agents.NewWriter(client, runner, objects))
	registry.Register(agents.NewResearcher(search, client))
	registry.Register(agents.NewWeather(weatherAPI, client))
	registry.Register(agents.NewArtDirector(client, objects))
	registry.Register(agents.NewToolSmith(client, runner, objects))
	registry.Register(agents.NewCritic(client))
	log.Printf("Agent registry initialized: %v", registry.Names())

	engine := orchestrator.NewEngine(
		s,
		registry,
		agents.NewPerceptor(client),
		agents.NewPlanner(client, cases, cfg.Engine.CaseSimilarity, true),
		agents.NewCritic(client),
		cases,
		cfg.Engine,
	)
	orch := orchestrator.New(s, engine, true)

	sched := scheduler.New(s, engine, cfg.Scheduler)
	sched.Start()

	service := controlplane.NewService(s, orch, sched)
	server := controlplane.NewServer(service, cfg.APIAddr, cfg.APIToken)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		if err != nil {
			log.Printf("Server error: %v", err)
			s.Close()
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Println("Shutting down HTTP server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Stopping scheduler...")
	sched.Stop()

	log.Println("Closing database connection...")
	if err := s.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}
