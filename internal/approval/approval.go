// Package approval implements the Approval Manager: the durable queue of
// REFER decisions awaiting human resolution. It owns per-task timers and
// the suspended decision future the signing pipeline awaits.
//
// Grounded on the teacher's internal/presence/presence.go Verifier: a
// Session/Challenge pending/passed/failed/expired lifecycle driven by a
// ChallengeInterval/ResponseWindow timer pair, translated here to a single
// TTL timer per task and a one-shot channel instead of a polled status
// field, per the suspended-decision-as-channel design note.
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"intercessio/internal/errs"
	"intercessio/internal/logging"
	"intercessio/internal/notifier"
	"intercessio/internal/store"
)

// CreateParams bundles the arguments to Create.
type CreateParams struct {
	SessionID    string
	SessionAlias string
	SessionType  store.SessionType
	Client       string
	EventKind    int
	EventSummary string
	DraftJSON    string
	PolicyID     string
	PolicyLabel  string
	TTL          time.Duration
}

// pendingTask tracks the in-memory half of a durable approval row: its
// resolver channel and its timer.
type pendingTask struct {
	resultCh chan bool
	timer    *time.Timer
	once     sync.Once
}

// Manager is the Approval Manager.
type Manager struct {
	mu       sync.Mutex
	store    *store.Store
	notifier *notifier.Notifier
	log      *logging.Logger
	pending  map[string]*pendingTask
}

// NewManager constructs a Manager backed by st, publishing best-effort
// notifications through n.
func NewManager(st *store.Store, n *notifier.Notifier, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.New(logging.DefaultConfig())
	}
	return &Manager{
		store:    st,
		notifier: n,
		log:      log.WithComponent("approval"),
		pending:  map[string]*pendingTask{},
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// Create persists a pending ApprovalTask, arms its TTL timer, registers an
// in-memory resolver, fires a best-effort notification, and returns the
// task id plus a function the signing pipeline calls to await the
// eventual decision (true = sign, false = deny).
func (m *Manager) Create(ctx context.Context, p CreateParams) (taskID string, await func(context.Context) bool, err error) {
	id := uuid.NewString()
	createdAt := nowMillis()
	expiresAt := createdAt + p.TTL.Milliseconds()

	row := store.ApprovalTask{
		ID:           id,
		SessionID:    p.SessionID,
		SessionAlias: p.SessionAlias,
		SessionType:  p.SessionType,
		Client:       p.Client,
		EventKind:    p.EventKind,
		EventSummary: p.EventSummary,
		PolicyID:     p.PolicyID,
		PolicyLabel:  p.PolicyLabel,
		DraftJSON:    p.DraftJSON,
		CreatedAt:    createdAt,
		ExpiresAt:    expiresAt,
		Status:       store.ApprovalPending,
	}
	if err := m.store.InsertApprovalTask(row); err != nil {
		return "", nil, err
	}

	pt := &pendingTask{resultCh: make(chan bool, 1)}

	m.mu.Lock()
	m.pending[id] = pt
	m.mu.Unlock()

	pt.timer = time.AfterFunc(p.TTL, func() {
		m.expire(id)
	})

	if m.notifier != nil {
		clientShort := p.Client
		if len(clientShort) > 8 {
			clientShort = clientShort[:8]
		}
		m.notifier.Notify(ctx, notifier.Notification{
			TaskID:       id,
			SessionAlias: p.SessionAlias,
			ClientShort:  clientShort,
			EventKind:    p.EventKind,
			PolicyLabel:  p.PolicyLabel,
		})
	}

	await = func(ctx context.Context) bool {
		select {
		case v := <-pt.resultCh:
			return v
		case <-ctx.Done():
			return false
		}
	}
	return id, await, nil
}

// resolveLocked delivers v to pt exactly once, cancels its timer, and
// removes it from the pending map. Callers hold m.mu.
func (m *Manager) resolveLocked(id string, pt *pendingTask, v bool) {
	pt.once.Do(func() {
		if pt.timer != nil {
			pt.timer.Stop()
		}
		pt.resultCh <- v
	})
	delete(m.pending, id)
}

// Resolve applies an explicit human decision to a pending task. Any other
// status (already resolved, or unknown id) returns errs.ErrNotFound,
// idempotent from the caller's perspective.
func (m *Manager) Resolve(taskID string, approved bool) error {
	m.mu.Lock()
	pt, ok := m.pending[taskID]
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("approval task %q: %w", taskID, errs.ErrNotFound)
	}

	status := store.ApprovalRejected
	if approved {
		status = store.ApprovalApproved
	}

	affected, err := m.store.UpdateApprovalStatus(taskID, status)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("approval task %q: %w", taskID, errs.ErrNotFound)
	}

	m.mu.Lock()
	m.resolveLocked(taskID, pt, approved)
	m.mu.Unlock()
	return nil
}

// RejectForSession marks every pending task belonging to sessionID as
// rejected and wakes their waiters with false. Invoked on session stop or
// delete.
func (m *Manager) RejectForSession(sessionID string) error {
	ids, err := m.store.UpdatePendingStatusForSession(sessionID, store.ApprovalRejected)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		if pt, ok := m.pending[id]; ok {
			m.resolveLocked(id, pt, false)
		}
	}
	return nil
}

// expire transitions a task to expired when its timer fires without a
// waiter having re-registered resolution first.
func (m *Manager) expire(taskID string) {
	m.mu.Lock()
	pt, ok := m.pending[taskID]
	m.mu.Unlock()
	if !ok {
		return
	}

	if _, err := m.store.UpdateApprovalStatus(taskID, store.ApprovalExpired); err != nil {
		m.log.Warn("failed to persist approval expiry", "error", err, "task_id", taskID)
	}

	m.mu.Lock()
	m.resolveLocked(taskID, pt, false)
	m.mu.Unlock()
}

// RestoreTimersOnBoot loads every pending row. Rows already past their
// expiry are transitioned to expired immediately; the rest get an orphan
// timer that expires them if no new waiter re-registers through the
// normal signing-pipeline path first.
func (m *Manager) RestoreTimersOnBoot() error {
	rows, err := m.store.ListApprovalTasks(store.ApprovalPending)
	if err != nil {
		return err
	}

	now := nowMillis()
	for _, row := range rows {
		if row.ExpiresAt <= now {
			if _, err := m.store.UpdateApprovalStatus(row.ID, store.ApprovalExpired); err != nil {
				m.log.Warn("failed to expire stale approval on boot", "error", err, "task_id", row.ID)
			}
			continue
		}

		pt := &pendingTask{resultCh: make(chan bool, 1)}
		remaining := time.Duration(row.ExpiresAt-now) * time.Millisecond
		id := row.ID
		pt.timer = time.AfterFunc(remaining, func() {
			m.expire(id)
		})

		m.mu.Lock()
		m.pending[row.ID] = pt
		m.mu.Unlock()
	}
	return nil
}

// ListPending returns all currently pending tasks.
func (m *Manager) ListPending() ([]store.ApprovalTask, error) {
	return m.store.ListApprovalTasks(store.ApprovalPending)
}

// Get returns a single task view for the control plane.
func (m *Manager) Get(taskID string) (store.ApprovalTask, error) {
	return m.store.GetApprovalTask(taskID)
}
