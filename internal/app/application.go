package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/opphound/opphound/internal/agents"
	"github.com/opphound/opphound/internal/coordinator"
	"github.com/opphound/opphound/internal/extraction"
	"github.com/opphound/opphound/internal/interfaces"
	"github.com/opphound/opphound/internal/logging"
	"github.com/opphound/opphound/internal/model"
	"github.com/opphound/opphound/internal/samgov"
	"github.com/opphound/opphound/internal/scanmgr"
	"github.com/opphound/opphound/internal/server"
	"github.com/opphound/opphound/internal/storage"
	"github.com/opphound/opphound/internal/webclient"
)

// Application owns the wired pipeline: storage, scan manager, agent
// registry, extraction engine, coordinator and the HTTP server. Pass it
// around instead of reaching for package-level state.
type Application struct {
	Config *Config
	Logger logging.Logger

	Store       *storage.SQLiteStore
	Scans       *scanmgr.Manager
	Registry    *agents.Registry
	Engine      *extraction.Engine
	Coordinator *coordinator.Coordinator
	Server      *server.Server
}

// NewApplication constructs and wires every component from cfg. The caller
// owns the lifecycle: Run to serve, Close to tear down.
func NewApplication(cfg *Config, logger logging.Logger) (*Application, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("App")
	}

	webclient.RegisterDefaultBackends()

	store, err := storage.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}

	scans := scanmgr.New(cfg.ScanMgr, store, logger)
	registry := agents.NewDefaultRegistry(logger)

	extractors := []extraction.Extractor{
		extraction.NewStructuredExtractor(),
		extraction.NewGenericExtractor(),
	}
	if cfg.SAMGov.APIKey != "" {
		client := samgov.NewClient(cfg.SAMGov, nil, logger)
		api := extraction.NewAPIExtractor(client, extraction.NewStructuredExtractor(), logger)
		extractors = append([]extraction.Extractor{api}, extractors...)
	}
	engine := extraction.NewEngine(logger, extractors...)

	factory := func(p *model.Portal) (interfaces.WebClient, error) {
		wcCfg := cfg.WebClient
		if p.RequiresLogin && cfg.BrowserForLogins {
			wcCfg.Backend = webclient.BackendChromedp
		}
		return webclient.New(wcCfg, logger)
	}

	coord := coordinator.New(cfg.Coordinator, store, registry, scans, engine, factory, logger)

	srv := server.NewServer(server.Config{
		ListenAddr: cfg.ListenAddr,
		Logger:     logger,
	}, store, scans, coord)

	return &Application{
		Config:      cfg,
		Logger:      logger,
		Store:       store,
		Scans:       scans,
		Registry:    registry,
		Engine:      engine,
		Coordinator: coord,
		Server:      srv,
	}, nil
}

// Run serves the HTTP API until ctx is canceled, then shuts down cleanly.
func (a *Application) Run(ctx context.Context) error {
	httpSrv := a.Server.HTTPServer()

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("listening", logging.Field{Key: "addr", Value: a.Config.ListenAddr})
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("http shutdown", logging.Field{Key: "error", Value: err.Error()})
	}
	return nil
}

// Close tears the pipeline down in reverse wiring order.
func (a *Application) Close() error {
	a.Coordinator.Close()
	a.Scans.Shutdown()
	return a.Store.Close()
}
