package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"intercessio/internal/activity"
	"intercessio/internal/approval"
	"intercessio/internal/errs"
	"intercessio/internal/logging"
	"intercessio/internal/session"
	"intercessio/internal/store"
)

// Dependencies bundles the components the Control Plane dispatches to.
type Dependencies struct {
	Sessions  *session.Manager
	Approvals *approval.Manager
	Log       *activity.Log
}

// Server is the control-plane listener.
type Server struct {
	mu         sync.Mutex
	socketPath string
	deps       Dependencies
	logger     *logging.Logger
	listener   net.Listener
	startedAt  int64
	shutdownFn func()
	wg         sync.WaitGroup
}

// NewServer constructs a Server bound to socketPath, not yet listening.
func NewServer(socketPath string, deps Dependencies, logger *logging.Logger, shutdownFn func()) *Server {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &Server{
		socketPath: socketPath,
		deps:       deps,
		logger:     logger.WithComponent("control"),
		shutdownFn: shutdownFn,
	}
}

// AcquireSingleton implements the single-instance guard: dial as a client
// first; a successful connection means another daemon owns the socket
// (caller should exit 0); connection-refused means the socket is stale and
// safe to unlink and rebind.
func AcquireSingleton(socketPath string) error {
	conn, err := net.DialTimeout("unix", socketPath, 500*time.Millisecond)
	if err == nil {
		conn.Close()
		return errs.ErrAlreadyRunning
	}
	// Any other error (no such file, connection refused) means no live
	// owner; remove a stale socket file so the bind below succeeds.
	_ = os.Remove(socketPath)
	return nil
}

// Start binds the unix socket and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now().UnixMilli()

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("bind control socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod control socket: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.logger.Warn("accept failed", "error", err)
				return
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return
	}

	var req Request
	var resp Response
	if err := json.Unmarshal(line, &req); err != nil {
		resp = errResponse(fmt.Sprintf("parse error: %v", err))
	} else {
		resp = s.dispatch(req)
	}

	out, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response failed", "error", err)
		return
	}
	out = append(out, '\n')
	if _, err := conn.Write(out); err != nil {
		s.logger.Warn("write response failed", "error", err)
	}
}

// Stop closes the listener, waits for in-flight connections, and unlinks
// the socket file, completing the graceful-drain shutdown sequence.
func (s *Server) Stop() {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	s.wg.Wait()
	_ = os.Remove(s.socketPath)
}

func sessionToView(r store.SessionRecord) SessionView {
	return SessionView{
		ID: r.ID, Type: string(r.Type), KeyID: r.KeyID, Alias: r.Alias, Relays: r.Relays,
		URI: r.URI, AutoApprove: r.AutoApprove, Status: string(r.Status), LastClient: r.LastClient,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, Active: r.Active, Template: r.Template,
	}
}

func activityToView(e activity.Entry) ActivityView {
	return ActivityView{
		ID: e.ID, Timestamp: e.Timestamp, Type: string(e.Type), Summary: e.Summary,
		SessionID: e.SessionID, SessionLabel: e.SessionLabel, Client: e.Client, Metadata: e.Metadata,
	}
}

func approvalToView(t store.ApprovalTask) ApprovalView {
	return ApprovalView{
		ID: t.ID, SessionID: t.SessionID, SessionAlias: t.SessionAlias, SessionType: string(t.SessionType),
		Client: t.Client, EventKind: t.EventKind, EventSummary: t.EventSummary, PolicyID: t.PolicyID,
		PolicyLabel: t.PolicyLabel, CreatedAt: t.CreatedAt, ExpiresAt: t.ExpiresAt, Status: string(t.Status),
	}
}
