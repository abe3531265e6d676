// Package notifier implements the Notifier: a fire-and-forget HTTP
// publisher for approval notifications. Failures are logged and swallowed;
// the approval flow never blocks on, or fails because of, a notification.
//
// Grounded on the teacher's pkg/anchors/ots.go OTSAnchor.Commit /
// submitToCalendar shape: an http.Client with a bounded timeout, a POST
// with a small body, and errors that are logged here rather than causing
// the overall operation to fail.
package notifier

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"intercessio/internal/logging"
)

const requestTimeout = 10 * time.Second

// Config configures where and whether notifications are sent.
type Config struct {
	Topic         string // NTFY_TOPIC / INTERCESSIO_NTFY_TOPIC; empty disables publication
	BaseURL       string // NTFY_BASE_URL, default https://ntfy.sh
	ReviewBaseURL string // IC_LINK, optional dashboard base for a review link
}

// Notification describes one approval awaiting a human decision.
type Notification struct {
	TaskID       string
	SessionAlias string
	ClientShort  string
	EventKind    int
	PolicyLabel  string
}

// Notifier publishes best-effort notifications over HTTP.
type Notifier struct {
	mu     sync.RWMutex
	cfg    Config
	client *http.Client
	log    *logging.Logger
}

// New builds a Notifier from cfg. A nil logger is replaced with the
// default stderr logger.
func New(cfg Config, log *logging.Logger) *Notifier {
	if log == nil {
		log = logging.New(logging.DefaultConfig())
	}
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: requestTimeout},
		log:    log.WithComponent("notifier"),
	}
}

// UpdateConfig replaces the notifier's configuration, letting a config
// hot-reload change the topic/base URL of a running daemon without a
// restart.
func (n *Notifier) UpdateConfig(cfg Config) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cfg = cfg
}

// Notify publishes n. Absent topic is a silent no-op. Any transport or
// status failure is logged at WARN and swallowed.
func (n *Notifier) Notify(ctx context.Context, note Notification) {
	n.mu.RLock()
	cfg := n.cfg
	n.mu.RUnlock()

	if cfg.Topic == "" {
		return
	}

	body := n.formatBodyWith(cfg, note)
	url := fmt.Sprintf("%s/%s", trimTrailingSlash(cfg.BaseURL), cfg.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		n.log.Warn("build notification request failed", "error", err, "task_id", note.TaskID)
		return
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", "Intercessio approval requested")

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn("notification delivery failed", "error", err, "task_id", note.TaskID)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.log.Warn("notification rejected", "status", resp.StatusCode, "task_id", note.TaskID)
	}
}

func (n *Notifier) formatBodyWith(cfg Config, note Notification) string {
	body := fmt.Sprintf("%s wants to sign a kind %d event via policy %q from %s",
		note.ClientShort, note.EventKind, note.PolicyLabel, note.SessionAlias)
	if cfg.ReviewBaseURL != "" {
		body += fmt.Sprintf("\nReview: %s/approvals/%s", trimTrailingSlash(cfg.ReviewBaseURL), note.TaskID)
	}
	return body
}

func trimTrailingSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
