// Package display manages isolated virtual display sessions: an Xvfb
// framebuffer per session, with an x11vnc server and a websockify relay that
// are activated only while a human actually needs to view the browser.
//
// The relay URL is token-routed ({scheme}://{host}:{port}/{token}); the token
// maps 1:1 to an active session and is revoked on release.
package display

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/formbot/formbot/pkg/models"
	"github.com/google/uuid"
)

const (
	DefaultMaxSessions       = 5
	DefaultSessionTTL        = 30 * time.Minute
	DefaultInactivityTimeout = 10 * time.Minute
	DefaultBaseDisplay       = 99
	DefaultVNCPortBase       = 5900
	DefaultWSPortBase        = 6080
)

// Config controls session limits and the relay endpoint advertised to
// viewers.
type Config struct {
	MaxSessions int
	SessionTTL  time.Duration
	// InactivityTimeout reaps sessions nobody touched recently, well before
	// their absolute TTL.
	InactivityTimeout time.Duration
	BaseDisplay       int
	VNCPortBase       int
	WSPortBase        int
	RelayScheme       string // e.g. "http"
	RelayHost         string // host viewers connect to
	NoVNCPath         string // web root served by websockify, e.g. /usr/share/novnc
	ScreenSize        string // Xvfb screen geometry
}

func (c *Config) withDefaults() {
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}

	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}

	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = DefaultInactivityTimeout
	}

	if c.BaseDisplay <= 0 {
		c.BaseDisplay = DefaultBaseDisplay
	}

	if c.VNCPortBase <= 0 {
		c.VNCPortBase = DefaultVNCPortBase
	}

	if c.WSPortBase <= 0 {
		c.WSPortBase = DefaultWSPortBase
	}

	if c.RelayScheme == "" {
		c.RelayScheme = "http"
	}

	if c.RelayHost == "" {
		c.RelayHost = "localhost"
	}

	if c.ScreenSize == "" {
		c.ScreenSize = "1280x720x24"
	}
}

type session struct {
	models.DisplaySession

	slot       int
	xvfb       Process
	x11vnc     Process
	websockify Process
	resumeCh   chan struct{}
	resumeOnce sync.Once
	released   bool
}

// ExpiredSession describes a session reaped by the sweep so its owner can be
// transitioned (editing session to expired, execution to failed).
type ExpiredSession struct {
	SessionID  string
	WorkflowID string
}

// Manager owns the display lifecycle. All allocation goes through it; at most
// one session exists per workflow id at any instant.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	byWF     map[string]string // workflow id -> session id
	slots    []bool
	cfg      Config
	launcher Launcher
	logger   *slog.Logger
}

func NewManager(cfg Config, launcher Launcher, logger *slog.Logger) *Manager {
	cfg.withDefaults()

	if launcher == nil {
		launcher = ExecLauncher{}
	}

	return &Manager{
		sessions: make(map[string]*session),
		byWF:     make(map[string]string),
		slots:    make([]bool, cfg.MaxSessions),
		cfg:      cfg,
		launcher: launcher,
		logger:   logger.With("module", "display_manager"),
	}
}

// Allocate reserves an isolated virtual display for the workflow and starts
// its framebuffer. The relay (x11vnc + websockify) stays down until
// ActivateRelay is called, so a headed browser can render without being
// remotely viewable.
func (m *Manager) Allocate(ctx context.Context, workflowID string) (*models.DisplaySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byWF[workflowID]; ok {
		return nil, fmt.Errorf("%w: session %s", ErrAlreadyActive, existing)
	}

	slot := -1

	for i, used := range m.slots {
		if !used {
			slot = i

			break
		}
	}

	if slot == -1 {
		return nil, fmt.Errorf("%w: limit %d", ErrCapacityExceeded, m.cfg.MaxSessions)
	}

	displayHandle := fmt.Sprintf(":%d", m.cfg.BaseDisplay+slot)

	xvfb, err := m.launcher.Launch("Xvfb", displayHandle, "-screen", "0", m.cfg.ScreenSize)
	if err != nil {
		return nil, fmt.Errorf("failed to start virtual display %s: %w", displayHandle, err)
	}

	now := time.Now().UTC()
	sess := &session{
		DisplaySession: models.DisplaySession{
			ID:             uuid.New().String(),
			WorkflowID:     workflowID,
			Display:        displayHandle,
			RelayToken:     uuid.New().String(),
			CreatedAt:      now,
			LastActivityAt: now,
			ExpiresAt:      now.Add(m.cfg.SessionTTL),
		},
		slot:     slot,
		xvfb:     xvfb,
		resumeCh: make(chan struct{}),
	}
	sess.RelayURL = fmt.Sprintf("%s://%s:%d/%s",
		m.cfg.RelayScheme, m.cfg.RelayHost, m.cfg.WSPortBase+slot, sess.RelayToken)

	m.slots[slot] = true
	m.sessions[sess.ID] = sess
	m.byWF[workflowID] = sess.ID

	m.logger.InfoContext(ctx, "Allocated display session",
		"session_id", sess.ID, "workflow_id", workflowID, "display", displayHandle)

	snapshot := sess.DisplaySession

	return &snapshot, nil
}

// ActivateRelay starts the VNC server and websocket relay for a session so a
// remote viewer can see and drive the browser. Idempotent while active.
func (m *Manager) ActivateRelay(ctx context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return "", ErrSessionNotFound
	}

	if sess.x11vnc != nil && sess.x11vnc.Running() {
		return sess.RelayURL, nil
	}

	vncPort := m.cfg.VNCPortBase + sess.slot
	wsPort := m.cfg.WSPortBase + sess.slot

	x11vnc, err := m.launcher.Launch("x11vnc",
		"-display", sess.Display,
		"-nopw", "-listen", "0.0.0.0", "-xkb", "-forever",
		"-rfbport", fmt.Sprint(vncPort))
	if err != nil {
		return "", fmt.Errorf("failed to start vnc server: %w", err)
	}

	args := []string{fmt.Sprint(wsPort), fmt.Sprintf("localhost:%d", vncPort)}
	if m.cfg.NoVNCPath != "" {
		args = append([]string{"--web", m.cfg.NoVNCPath}, args...)
	}

	websockify, err := m.launcher.Launch("websockify", args...)
	if err != nil {
		_ = x11vnc.Stop()

		return "", fmt.Errorf("failed to start websocket relay: %w", err)
	}

	sess.x11vnc = x11vnc
	sess.websockify = websockify
	sess.LastActivityAt = time.Now().UTC()

	m.logger.InfoContext(ctx, "Activated display relay",
		"session_id", sessionID, "relay_url", sess.RelayURL)

	return sess.RelayURL, nil
}

// DeactivateRelay stops the VNC server and relay but keeps the framebuffer
// alive for the browser still rendering on it.
func (m *Manager) DeactivateRelay(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}

	stopRelay(sess)

	return nil
}

// Touch resets the session's activity clock.
func (m *Manager) Touch(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[sessionID]; ok {
		sess.LastActivityAt = time.Now().UTC()
	}
}

// Get returns a snapshot of a session.
func (m *Manager) Get(sessionID string) (*models.DisplaySession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	snapshot := sess.DisplaySession

	return &snapshot, nil
}

// ByWorkflow returns the session bound to a workflow, if any.
func (m *Manager) ByWorkflow(workflowID string) (*models.DisplaySession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byWF[workflowID]
	if !ok {
		return nil, false
	}

	snapshot := m.sessions[id].DisplaySession

	return &snapshot, true
}

// WaitForResume blocks until Resume is called for the session, the context is
// done, or the session is released. Returns true only on an explicit resume.
func (m *Manager) WaitForResume(ctx context.Context, sessionID string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]

	var ch chan struct{}
	if ok {
		ch = sess.resumeCh
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	select {
	case <-ch:
		m.mu.Lock()
		_, stillThere := m.sessions[sessionID]
		m.mu.Unlock()

		return stillThere
	case <-ctx.Done():
		return false
	}
}

// Resume signals a waiting owner that manual intervention is complete.
func (m *Manager) Resume(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}

	sess.resumeOnce.Do(func() { close(sess.resumeCh) })
	sess.LastActivityAt = time.Now().UTC()

	return nil
}

// Release tears down the relay and framebuffer and revokes the token. Safe to
// call twice; releasing an unknown id is a no-op.
func (m *Manager) Release(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.releaseLocked(sessionID)
}

func (m *Manager) releaseLocked(sessionID string) error {
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}

	if sess.released {
		return nil
	}

	sess.released = true

	// Unblock anyone parked in WaitForResume; they re-check registration and
	// observe the release.
	delete(m.sessions, sessionID)
	delete(m.byWF, sess.WorkflowID)
	m.slots[sess.slot] = false
	sess.resumeOnce.Do(func() { close(sess.resumeCh) })

	stopRelay(sess)

	if sess.xvfb != nil {
		_ = sess.xvfb.Stop()
	}

	m.logger.Info("Released display session",
		"session_id", sessionID, "workflow_id", sess.WorkflowID)

	return nil
}

func stopRelay(sess *session) {
	if sess.websockify != nil {
		_ = sess.websockify.Stop()
		sess.websockify = nil
	}

	if sess.x11vnc != nil {
		_ = sess.x11vnc.Stop()
		sess.x11vnc = nil
	}
}

// Sweep releases every session whose TTL has passed or that nobody touched
// within the inactivity timeout, and returns them so their owners can be
// transitioned (editing to expired, execution to failed).
func (m *Manager) Sweep(now time.Time) []ExpiredSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []ExpiredSession

	for id, sess := range m.sessions {
		if now.After(sess.ExpiresAt) || now.Sub(sess.LastActivityAt) > m.cfg.InactivityTimeout {
			expired = append(expired, ExpiredSession{SessionID: id, WorkflowID: sess.WorkflowID})
		}
	}

	for _, e := range expired {
		_ = m.releaseLocked(e.SessionID)
	}

	return expired
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}

// Shutdown releases every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.sessions {
		_ = m.releaseLocked(id)
	}
}
