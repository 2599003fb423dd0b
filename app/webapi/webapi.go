// Package webapi provides the status and metrics web server.
package webapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/tg-guard/app/metrics"
)

// Server is the web server exposing operational state, read-only by design.
type Server struct {
	Config
}

// Config defines server parameters.
type Config struct {
	Version          string         // version to show in /ping and /status
	ListenAddr       string         // listen address
	Stats            Stats          // pipeline counters
	Queue            Queue          // processing queue
	Trusted          TrustedCounter // trusted users counter
	MetricsHandler   http.Handler   // prometheus scrape endpoint, optional
	AuthPasswd       string         // basic auth password for user "tg-guard"
	MinTimeInChat    time.Duration  // trust threshold, time in chat
	MinValidMessages int            // trust threshold, valid messages
}

// Stats exposes pipeline counters, implemented by metrics.Prom.
type Stats interface {
	Snapshot() metrics.Snapshot
}

// Queue reports the depth of the processing queue, implemented by antispam.Service.
type Queue interface {
	QueueLen() int
}

// TrustedCounter reports how many users reached trusted status, implemented
// by storage.Store.
type TrustedCounter interface {
	TrustedCount(ctx context.Context, joinedBefore time.Time, minValidMessages int) (int, error)
}

// NewServer creates a new web server.
func NewServer(config Config) *Server {
	return &Server{Config: config}
}

// Run starts the server and blocks until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	router := routegroup.New(http.NewServeMux())
	router.Use(rest.Recoverer(lgr.Default()))
	router.Use(rest.AppInfo("tg-guard", "umputun", s.Version), rest.Ping)

	lmt := tollbooth.NewLimiter(50, nil)
	router.Use(func(next http.Handler) http.Handler { return tollbooth.LimitHandler(lmt, next) })

	if s.AuthPasswd != "" {
		log.Printf("[INFO] basic auth enabled for web server")
		router.Use(rest.BasicAuthWithPrompt("tg-guard", s.AuthPasswd))
	} else {
		log.Printf("[WARN] basic auth disabled, access to web server is not protected")
	}

	router.HandleFunc("GET /status", s.statusHandler)
	if s.MetricsHandler != nil {
		router.Handle("GET /metrics", s.MetricsHandler)
	}

	srv := &http.Server{Addr: s.ListenAddr, Handler: router, ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("[WARN] failed to shutdown web server: %v", err)
		} else {
			log.Printf("[INFO] web server stopped")
		}
	}()

	log.Printf("[INFO] start web server on %s", s.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to run web server: %w", err)
	}
	return nil
}

// statusHandler handles GET /status, returning counters, queue depth and the
// number of trusted users. A failed trusted count doesn't fail the whole
// response, the field is reported as -1.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Version      string           `json:"version"`
		Stats        metrics.Snapshot `json:"stats"`
		QueueLen     int              `json:"queue_len"`
		TrustedUsers int              `json:"trusted_users"`
	}{Version: s.Version, Stats: s.Stats.Snapshot(), QueueLen: s.Queue.QueueLen()}

	cutoff := time.Now().Add(-s.MinTimeInChat)
	count, err := s.Trusted.TrustedCount(r.Context(), cutoff, s.MinValidMessages)
	if err != nil {
		log.Printf("[WARN] can't get trusted users count: %v", err)
		count = -1
	}
	resp.TrustedUsers = count

	rest.RenderJSON(w, resp)
}
