package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ryosukesatoh/daily-brief/internal/logging"
	"github.com/ryosukesatoh/daily-brief/internal/newsletter"
	"github.com/ryosukesatoh/daily-brief/internal/render"
)

// WebPublisher serves the latest issue as an HTML page over HTTP, and as
// JSON at /latest.json.
type WebPublisher struct {
	addr   string
	server *http.Server
	log    logrus.FieldLogger
	mu     sync.RWMutex
	latest *Issue
	page   string
}

func NewWebPublisher(addr string, logger logrus.FieldLogger) *WebPublisher {
	if logger == nil {
		logger = logging.Discard()
	}
	wp := &WebPublisher{addr: addr, log: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/", wp.handleIndex)
	mux.HandleFunc("/latest.json", wp.handleJSON)
	wp.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return wp
}

// Start begins serving HTTP in the background. Call Shutdown to stop.
func (wp *WebPublisher) Start() error {
	ln, err := net.Listen("tcp", wp.addr)
	if err != nil {
		return fmt.Errorf("web: failed to listen on %s: %w", wp.addr, err)
	}
	go func() {
		wp.log.Infof("Web publisher listening on %s", wp.addr)
		if err := wp.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			wp.log.Errorf("Web publisher error: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (wp *WebPublisher) Shutdown(ctx context.Context) error {
	return wp.server.Shutdown(ctx)
}

func (wp *WebPublisher) Publish(_ context.Context, issue Issue) error {
	page := issue.Body
	if issue.Format != newsletter.FormatHTML {
		var err error
		page, err = render.NewHTML().Render(issue.Newsletter)
		if err != nil {
			return fmt.Errorf("web: %w", err)
		}
	}

	wp.mu.Lock()
	wp.latest = &issue
	wp.page = page
	wp.mu.Unlock()
	wp.log.WithField("title", issue.Newsletter.Title).Info("Web publisher updated with new issue")
	return nil
}

func (wp *WebPublisher) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	wp.mu.RLock()
	page := wp.page
	wp.mu.RUnlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if page == "" {
		fmt.Fprint(w, `<!DOCTYPE html><html><body><h1>Daily Brief</h1><p>No newsletter available yet. Check back later.</p></body></html>`)
		return
	}

	fmt.Fprint(w, page)
}

func (wp *WebPublisher) handleJSON(w http.ResponseWriter, _ *http.Request) {
	wp.mu.RLock()
	latest := wp.latest
	wp.mu.RUnlock()

	if latest == nil {
		http.Error(w, `{"error":"no newsletter available yet"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(latest.Newsletter)
}
