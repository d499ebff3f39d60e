package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"odds-oracle/internal/fetcher"
	"odds-oracle/internal/oddscache"
	"odds-oracle/internal/service"
)

// LoopStatus is the read side of the main loop.
type LoopStatus interface {
	State() service.State
	LastHeartbeat() (service.Heartbeat, bool)
	Games() []fetcher.ScheduledGame
}

// OddsReader is the read side of the odds cache.
type OddsReader interface {
	Get(gameID string) (oddscache.Snapshot, bool)
	Snapshots() []oddscache.Snapshot
	LastFullRefresh() time.Time
}

// Server exposes loop and odds state over HTTP.
type Server struct {
	loop   LoopStatus
	odds   OddsReader
	srv    *http.Server
	logger zerolog.Logger
}

// New builds the status server listening on addr.
func New(addr string, loop LoopStatus, odds OddsReader, logger zerolog.Logger) *Server {
	s := &Server{
		loop:   loop,
		odds:   odds,
		logger: logger.With().Str("component", "status_api").Logger(),
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Timeout(10 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/games", s.handleGames)
	r.Route("/odds", func(r chi.Router) {
		r.Get("/", s.handleListOdds)
		r.Get("/{gameID}", s.handleGetOdds)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("status api listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Dur("elapsed", time.Since(start)).
			Msg("request served")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	State           string             `json:"state"`
	OddsGames       int                `json:"odds_games"`
	LastFullRefresh *time.Time         `json:"last_full_refresh,omitempty"`
	Heartbeat       *service.Heartbeat `json:"heartbeat,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		State:     s.loop.State().String(),
		OddsGames: len(s.odds.Snapshots()),
	}
	if last := s.odds.LastFullRefresh(); !last.IsZero() {
		resp.LastFullRefresh = &last
	}
	if hb, ok := s.loop.LastHeartbeat(); ok {
		resp.Heartbeat = &hb
	}
	writeJSON(w, http.StatusOK, resp)
}

type gameView struct {
	fetcher.ScheduledGame
	Game    string `json:"game"`
	HasOdds bool   `json:"has_odds"`
}

func (s *Server) handleGames(w http.ResponseWriter, r *http.Request) {
	games := s.loop.Games()
	views := make([]gameView, 0, len(games))
	for _, g := range games {
		g.Payload = nil
		_, ok := s.odds.Get(g.ID)
		views = append(views, gameView{ScheduledGame: g, Game: g.Description(), HasOdds: ok})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(views),
		"games": views,
	})
}

type oddsView struct {
	oddscache.Snapshot
	HomeImplied string `json:"home_implied,omitempty"`
	AwayImplied string `json:"away_implied,omitempty"`
}

func newOddsView(snap oddscache.Snapshot) oddsView {
	view := oddsView{Snapshot: snap}
	if home, away, ok := oddscache.Consensus(snap); ok {
		view.HomeImplied = home.StringFixed(4)
		view.AwayImplied = away.StringFixed(4)
	}
	return view
}

func (s *Server) handleListOdds(w http.ResponseWriter, r *http.Request) {
	snaps := s.odds.Snapshots()
	views := make([]oddsView, 0, len(snaps))
	for _, snap := range snaps {
		views = append(views, newOddsView(snap))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(views),
		"games": views,
	})
}

func (s *Server) handleGetOdds(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	snap, ok := s.odds.Get(gameID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no odds for game " + gameID})
		return
	}
	writeJSON(w, http.StatusOK, newOddsView(snap))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
