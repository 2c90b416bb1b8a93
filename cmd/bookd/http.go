package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/rickgao/l3book/internal/connection"
	"github.com/rickgao/l3book/internal/model"
	"github.com/rickgao/l3book/internal/replica"
	"github.com/rickgao/l3book/internal/router"
	"github.com/rickgao/l3book/internal/version"
)

const defaultLevels = 10

type connStats interface {
	Stats() connection.ManagerStats
}

type routerStats interface {
	Stats() router.RouterStats
}

type pinger interface {
	Ping(ctx context.Context) error
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// statusServer serves health, metrics and read-only book queries.
type statusServer struct {
	instanceID  string
	replicas    []*replica.Replica
	conn        connStats
	router      routerStats
	db          pinger // nil when the database is disabled
	metricsPath string
	metrics     http.Handler
	logger      *slog.Logger
}

func (s *statusServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /book/{product}", s.handleBook)
	mux.HandleFunc("GET /book/{product}/levels", s.handleLevels)
	mux.HandleFunc("GET /book/{product}/quote", s.handleQuote)
	if s.metrics != nil && s.metricsPath != "" {
		mux.Handle(s.metricsPath, s.metrics)
	}
	return mux
}

type healthResponse struct {
	Status     string         `json:"status"`
	Instance   string         `json:"instance"`
	Components map[string]any `json:"components"`
}

// handleHealth reports "healthy" when the feed is connected and every
// replica is live, "degraded" while any replica is syncing or the feed is
// down, and "unhealthy" (503) when no replica is live or the database is
// unreachable.
func (s *statusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := healthResponse{
		Status:     "healthy",
		Instance:   s.instanceID,
		Components: make(map[string]any),
	}

	books := make([]replica.Health, 0, len(s.replicas))
	live := 0
	for _, rep := range s.replicas {
		h := rep.Health()
		if h.State == replica.Live.String() {
			live++
		}
		books = append(books, h)
	}
	health.Components["books"] = books
	if live < len(s.replicas) {
		health.Status = "degraded"
	}

	if s.conn != nil {
		st := s.conn.Stats()
		health.Components["feed"] = st
		if !st.Connected {
			health.Status = "degraded"
		}
	}
	if s.router != nil {
		health.Components["router"] = s.router.Stats()
	}

	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}
	}

	if len(s.replicas) > 0 && live == 0 {
		health.Status = "unhealthy"
	}

	code := http.StatusOK
	if health.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, health)
}

func (s *statusServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.Commit,
		"build_time": version.BuildTime,
	})
}

// handleBook dumps the level 3 book. ?depth=N keeps the first N orders of
// each side.
func (s *statusServer) handleBook(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.lookup(w, r)
	if !ok {
		return
	}
	depth, ok := s.depthParam(w, r, 0)
	if !ok {
		return
	}

	view := rep.Snapshot()
	if depth > 0 {
		view.Bids = head(view.Bids, depth)
		view.Asks = head(view.Asks, depth)
	}
	s.writeJSON(w, http.StatusOK, view)
}

type levelsResponse = replica.LevelsView

// handleLevels aggregates the book by price, best first.
func (s *statusServer) handleLevels(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.lookup(w, r)
	if !ok {
		return
	}
	depth, ok := s.depthParam(w, r, defaultLevels)
	if !ok {
		return
	}

	s.writeJSON(w, http.StatusOK, rep.Levels(depth))
}

type matchView struct {
	TradeID int64     `json:"trade_id"`
	Side    string    `json:"side"`
	Price   string    `json:"price"`
	Size    string    `json:"size"`
	Time    time.Time `json:"time"`
}

type quoteResponse struct {
	State     string      `json:"state"`
	Quote     model.Quote `json:"quote"`
	LastMatch *matchView  `json:"last_match,omitempty"`
}

func (s *statusServer) handleQuote(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.lookup(w, r)
	if !ok {
		return
	}

	resp := quoteResponse{
		State: rep.State().String(),
		Quote: rep.Quote(),
	}
	if m, ok := rep.LastMatch(); ok {
		resp.LastMatch = &matchView{
			TradeID: m.TradeID,
			Side:    m.Side.String(),
			Price:   m.Price.String(),
			Size:    m.Size.String(),
			Time:    m.Time,
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *statusServer) lookup(w http.ResponseWriter, r *http.Request) (*replica.Replica, bool) {
	id := r.PathValue("product")
	for _, rep := range s.replicas {
		if rep.ProductID() == id {
			return rep, true
		}
	}
	s.writeError(w, http.StatusNotFound, "unknown product "+strconv.Quote(id))
	return nil, false
}

func (s *statusServer) depthParam(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := r.URL.Query().Get("depth")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		s.writeError(w, http.StatusBadRequest, "depth must be a positive integer")
		return 0, false
	}
	return n, true
}

func (s *statusServer) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response failed", "error", err)
	}
}

func (s *statusServer) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}

func head(orders []model.Order, n int) []model.Order {
	if len(orders) > n {
		return orders[:n]
	}
	return orders
}
