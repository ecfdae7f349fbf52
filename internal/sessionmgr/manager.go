// Package sessionmgr implements §4.E's keyed session pool: registers
// provider adapters, creates/removes sessions by key, and exposes
// read-only listing.
//
// Grounded on internal/mcp/manager.go's registerProvider/createSession/
// removeSession shape (kept: tolerant provider-init, close-before-replace
// on re-create) generalized from MCP servers to agentsession.AgentSession
// instances.
package sessionmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/praytools/pray-bot/internal/agentsession"
)

// Provider creates AgentSessions for one backend kind (D1/D2/D3) and
// performs any one-time setup (e.g. spawning a shared resource) in
// Initialize.
type Provider interface {
	Name() string
	Initialize(ctx context.Context) error
	CreateSession(ctx context.Context, key string, options map[string]any) (agentsession.AgentSession, error)
}

// Manager owns the key -> session map, guarded by mu. It is ready to use
// as soon as New returns.
type Manager struct {
	mu        sync.RWMutex
	providers map[string]Provider
	sessions  map[string]agentsession.AgentSession
	ownerKey  map[string]string // session key -> provider name
}

func New() *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		sessions:  make(map[string]agentsession.AgentSession),
		ownerKey:  make(map[string]string),
	}
}

// RegisterProvider initializes p; a failed Initialize is logged and the
// provider is skipped rather than propagated, matching §4.E's tolerant
// registration contract.
func (m *Manager) RegisterProvider(ctx context.Context, p Provider) {
	if err := p.Initialize(ctx); err != nil {
		slog.Warn("sessionmgr.provider_init_failed", "provider", p.Name(), "error", err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.Name()] = p
}

// CreateSession closes any existing non-closed session under key before
// creating the new one.
func (m *Manager) CreateSession(ctx context.Context, providerName, key string, options map[string]any) (agentsession.AgentSession, error) {
	m.mu.Lock()
	p, ok := m.providers[providerName]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("sessionmgr: unknown provider %q", providerName)
	}
	existing, hasExisting := m.sessions[key]
	m.mu.Unlock()

	if hasExisting {
		if existing.GetStatus().State != agentsession.StateClosed {
			_ = existing.Close(ctx)
		}
	}

	session, err := p.CreateSession(ctx, key, options)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[key] = session
	m.ownerKey[key] = providerName
	m.mu.Unlock()

	return session, nil
}

// RemoveSession closes and deletes the session under key, if any.
func (m *Manager) RemoveSession(ctx context.Context, key string) error {
	m.mu.Lock()
	session, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
		delete(m.ownerKey, key)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return session.Close(ctx)
}

// GetSession returns the session registered under key, if any.
func (m *Manager) GetSession(key string) (agentsession.AgentSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	return s, ok
}

// ListSessions returns a snapshot of key -> status for every tracked session.
func (m *Manager) ListSessions() map[string]agentsession.SessionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]agentsession.SessionStatus, len(m.sessions))
	for k, s := range m.sessions {
		out[k] = s.GetStatus()
	}
	return out
}

// ListProviders returns the names of all registered providers.
func (m *Manager) ListProviders() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	return names
}

// GetStatus is a convenience read-only lookup for one session's status.
func (m *Manager) GetStatus(key string) (agentsession.SessionStatus, bool) {
	m.mu.RLock()
	s, ok := m.sessions[key]
	m.mu.RUnlock()
	if !ok {
		return agentsession.SessionStatus{}, false
	}
	return s.GetStatus(), true
}
