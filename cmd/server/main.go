// Package main is the entry point of the application
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tecu23/match-server/pkg/config"
	"github.com/tecu23/match-server/pkg/events"
	"github.com/tecu23/match-server/pkg/manager"
	"github.com/tecu23/match-server/pkg/repository"
	"github.com/tecu23/match-server/pkg/rules"
	"github.com/tecu23/match-server/pkg/server"
)

// application holds the session registry, the websocket hub and the HTTP server
type application struct {
	Logger    *zap.Logger
	Config    *config.Config
	Publisher *events.Publisher
	Manager   *manager.Manager
	Results   *repository.InMemoryResults
	Hub       *server.Hub
	Server    *http.Server
	Upgrader  websocket.Upgrader

	StartTime time.Time
}

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	port := flag.String("port", "", "server port (overrides PORT)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *debug {
		cfg.Debug = true
	}
	if *port != "" {
		cfg.Port = *port
	}

	// Initialize logger
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	app := newApplication(cfg, logger)
	app.Manager.Start()

	go app.Hub.Run()

	if err := app.serve(); err != nil {
		logger.Fatal("error serving", zap.Error(err))
	}
}

// newApplication wires the registry, the rules engine and the websocket hub
func newApplication(cfg *config.Config, logger *zap.Logger) *application {
	// Initialize event publisher
	publisher := events.NewPublisher()

	// Initialize session registry
	gm := manager.NewManager(publisher, logger,
		manager.WithTickInterval(cfg.TickInterval),
		manager.WithReapInterval(cfg.ReapInterval),
		manager.WithStaleAfter(cfg.StaleAfter),
	)

	// Keep finished games around after the reaper drops them
	results := repository.NewInMemoryResults(repository.DefaultCapacity, logger)
	results.Attach(publisher)

	hub := server.NewHub(gm, rules.NewStandard(), publisher, logger, server.WithResults(results))

	return &application{
		Logger:    logger,
		Config:    cfg,
		Publisher: publisher,
		Manager:   gm,
		Results:   results,
		Hub:       hub,
		Upgrader:  newUpgrader(cfg.FrontendOrigin),
		StartTime: time.Now(),
	}
}

func initLogger(debug bool) *zap.Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	return logger
}

// Shutdown cleans up resources
func (app *application) Shutdown() {
	// Stop accepting messages first so nothing reaches a stopped registry
	if app.Hub != nil {
		app.Hub.Shutdown()
	}

	if app.Manager != nil {
		app.Manager.Shutdown()
	}

	app.Logger.Info("All components shut down successfully")
}
