package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/opphound/opphound/docs" // generated swagger spec
	"github.com/opphound/opphound/internal/coordinator"
	"github.com/opphound/opphound/internal/interfaces"
	"github.com/opphound/opphound/internal/logging"
	"github.com/opphound/opphound/internal/model"
	"github.com/opphound/opphound/internal/scanmgr"
	"github.com/opphound/opphound/internal/storage"
)

// Store is the persistence surface the API depends on: the pipeline's
// record store plus the listing queries the read endpoints need.
type Store interface {
	interfaces.Store
	SetPortalCredentials(ctx context.Context, c *model.PortalCredentials) error
	ListScans(ctx context.Context, portalID string, limit int) ([]model.ScanSummary, error)
	ListOpportunities(ctx context.Context, portalID string, limit int) ([]model.Opportunity, error)
}

// Server is the HTTP + WebSocket API surface of the pipeline.
type Server struct {
	cfg      Config
	store    Store
	scans    interfaces.ScanManager
	coord    *coordinator.Coordinator
	router   chi.Router
	upgrader websocket.Upgrader
	logger   logging.Logger
}

func NewServer(cfg Config, store Store, scans interfaces.ScanManager, coord *coordinator.Coordinator) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewStdoutLogger("Server")
	}

	s := &Server{
		cfg:    cfg,
		store:  store,
		scans:  scans,
		coord:  coord,
		router: chi.NewRouter(),
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// TODO: tighten for production
				return true
			},
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)

	r.Options("/portals", s.optionsHandler("GET, POST"))
	r.Options("/portals/{portalID}/scan", s.optionsHandler("POST"))
	r.Options("/portals/{portalID}/history", s.optionsHandler("GET"))
	r.Options("/portals/{portalID}/opportunities", s.optionsHandler("GET"))
	r.Options("/scans", s.optionsHandler("GET"))
	r.Options("/scans/{scanID}", s.optionsHandler("GET"))

	r.Post("/portals", s.handleCreatePortal)
	r.Get("/portals", s.handleListPortals)

	r.Post("/portals/{portalID}/scan", s.handleStartScan)
	r.Get("/portals/{portalID}/history", s.handleScanHistory)
	r.Get("/portals/{portalID}/opportunities", s.handleListOpportunities)

	r.Get("/scans", s.handleListActiveScans)
	r.Get("/scans/{scanID}", s.handleGetScan)

	r.Get("/ws/scans/{scanID}/events", s.handleScanEventsWS)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/docs/*", httpSwagger.WrapHandler)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		{Key: "method", Value: r.Method},
		{Key: "path", Value: r.URL.Path},
	}

	if q := r.URL.Query(); len(q) > 0 {
		fields = append(fields, logging.Field{Key: "query", Value: q})
	}

	if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) {
		if bodyBytes, err := io.ReadAll(r.Body); err == nil {
			fields = append(fields, logging.Field{Key: "body", Value: string(bodyBytes)})
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	}

	s.logger.Info("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // allow streaming
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// --- HTTP handlers ---

func (s *Server) handleCreatePortal(w http.ResponseWriter, r *http.Request) {
	var body CreatePortalRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if body.Name == "" || body.URL == "" {
		writeError(w, http.StatusBadRequest, "name and url are required")
		return
	}

	portal := &model.Portal{
		Name:           body.Name,
		URL:            body.URL,
		Type:           model.PortalType(body.Type),
		RequiresLogin:  body.RequiresLogin,
		CheckFrequency: body.CheckFrequency,
	}
	if err := s.store.CreatePortal(r.Context(), portal); err != nil {
		s.logger.Warn("creating portal", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if body.Username != "" || body.APIKey != "" {
		creds := &model.PortalCredentials{
			PortalID: portal.ID,
			Username: body.Username,
			Password: body.Password,
			LoginURL: body.LoginURL,
			APIKey:   body.APIKey,
		}
		if err := s.store.SetPortalCredentials(r.Context(), creds); err != nil {
			s.logger.Warn("storing portal credentials", logging.Field{Key: "error", Value: err.Error()})
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	s.logger.Info("created portal", logging.Field{Key: "portal_id", Value: portal.ID})
	writeJSON(w, http.StatusCreated, portal)
}

func (s *Server) handleListPortals(w http.ResponseWriter, r *http.Request) {
	portals, err := s.store.ListPortals(r.Context())
	if err != nil {
		s.logger.Warn("listing portals", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if portals == nil {
		portals = []model.Portal{}
	}
	writeJSON(w, http.StatusOK, portals)
}

func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	portalID := chi.URLParam(r, "portalID")

	if s.scans.IsPortalScanning(portalID) {
		writeError(w, http.StatusConflict, "portal is already being scanned")
		return
	}

	item := &model.WorkItem{
		PortalID: portalID,
		TaskType: "portal_discovery",
		Status:   model.WorkActive,
	}
	if err := s.store.CreateWorkItem(r.Context(), item); err != nil {
		s.logger.Warn("creating work item", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	scanID, err := s.coord.StartSequenceAsync(r.Context(), portalID, item.ID)
	if err != nil {
		s.logger.Warn("starting discovery sequence", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	s.logger.Info("started scan",
		logging.Field{Key: "portal_id", Value: portalID},
		logging.Field{Key: "scan_id", Value: scanID})
	writeJSON(w, http.StatusAccepted, StartScanResponse{
		ScanID:     scanID,
		WorkItemID: item.ID,
		PortalID:   portalID,
	})
}

func (s *Server) handleListActiveScans(w http.ResponseWriter, r *http.Request) {
	scans := s.scans.ActiveScans()
	if scans == nil {
		scans = []*model.ScanState{}
	}
	writeJSON(w, http.StatusOK, scans)
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")

	if state := s.scans.GetScan(scanID); state != nil {
		writeJSON(w, http.StatusOK, state)
		return
	}

	// Completed scans live in storage.
	summary, err := s.store.GetScan(r.Context(), scanID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "scan not found")
			return
		}
		s.logger.Warn("loading scan", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	events, err := s.store.GetScanEvents(r.Context(), scanID)
	if err != nil {
		s.logger.Warn("loading scan events", logging.Field{Key: "error", Value: err.Error()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summary": summary,
		"events":  events,
	})
}

func (s *Server) handleScanHistory(w http.ResponseWriter, r *http.Request) {
	portalID := chi.URLParam(r, "portalID")

	limit := 0
	if ls := r.URL.Query().Get("limit"); ls != "" {
		if v, err := strconv.Atoi(ls); err == nil && v > 0 {
			limit = v
		}
	}

	history := s.scans.ScanHistory(portalID, limit)
	if len(history) == 0 {
		// Nothing in memory; fall back to persisted summaries.
		stored, err := s.store.ListScans(r.Context(), portalID, limit)
		if err != nil {
			s.logger.Warn("listing stored scans", logging.Field{Key: "error", Value: err.Error()})
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		history = stored
	}
	if history == nil {
		history = []model.ScanSummary{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleListOpportunities(w http.ResponseWriter, r *http.Request) {
	portalID := chi.URLParam(r, "portalID")

	limit := 0
	if ls := r.URL.Query().Get("limit"); ls != "" {
		if v, err := strconv.Atoi(ls); err == nil && v > 0 {
			limit = v
		}
	}

	opps, err := s.store.ListOpportunities(r.Context(), portalID, limit)
	if err != nil {
		s.logger.Warn("listing opportunities", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if opps == nil {
		opps = []model.Opportunity{}
	}
	writeJSON(w, http.StatusOK, opps)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- WebSockets ---

// handleScanEventsWS streams a scan's events. The first frame is always
// the initial_state snapshot; the stream ends after a terminal event or
// when the subscriber disconnects, without affecting the scan.
func (s *Server) handleScanEventsWS(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	events, unsubscribe, err := s.scans.Subscribe(scanID)
	if err != nil {
		if errors.Is(err, scanmgr.ErrScanNotFound) {
			_ = conn.WriteJSON(ErrorResponse{Error: "scan not found"})
		} else {
			_ = conn.WriteJSON(ErrorResponse{Error: err.Error()})
		}
		return
	}
	defer unsubscribe()

	for ev := range events {
		if err := conn.WriteJSON(ev); err != nil {
			// Client disconnected; the scan itself is unaffected.
			return
		}
		if ev.Type == model.EventScanCompleted || ev.Type == model.EventScanFailed {
			return
		}
	}
}
