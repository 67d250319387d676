package manager

import (
	"time"

	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/events"
)

// Start launches the background reaper. It is a no-op after Shutdown.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		m.mu.RLock()
		defer m.mu.RUnlock()

		if m.closed {
			return
		}

		m.wg.Add(1)
		go m.reapLoop()
	})
}

func (m *Manager) reapLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.Reap(); n > 0 {
				m.logger.Info("reaped idle sessions", zap.Int("count", n))
			}
		case <-m.stopCh:
			return
		}
	}
}

// Reap removes every session idle for longer than the staleness window,
// whatever its status, and returns how many were removed.
func (m *Manager) Reap() int {
	m.mu.RLock()
	candidates := make(map[string]*entry, len(m.sessions))
	for id, e := range m.sessions {
		candidates[id] = e
	}
	m.mu.RUnlock()

	cutoff := m.now().Add(-m.staleAfter)

	reaped := 0
	for id, e := range candidates {
		if m.reap(id, e, cutoff) {
			reaped++
		}
	}

	return reaped
}

func (m *Manager) reap(id string, e *entry, cutoff time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	// activity may have happened since the candidate list was taken
	if e.removed || !e.session.LastActivity().Before(cutoff) {
		return false
	}

	e.removed = true
	e.stopDriver()
	e.finished.Store(true)

	snap := e.session.Snapshot()

	m.mu.Lock()
	if m.sessions[id] == e {
		delete(m.sessions, id)
	}
	for _, connID := range e.session.Participants() {
		if m.connections[connID] == id {
			delete(m.connections, connID)
		}
	}
	m.mu.Unlock()

	m.publish(events.EventSessionReaped, id, snap)

	m.logger.Info("removed idle game session",
		zap.String("session_id", id),
		zap.String("status", string(snap.Status)),
		zap.Time("last_activity", snap.LastActivity),
	)

	return true
}

// Shutdown stops the reaper and every clock driver and waits for them
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		entries := make([]*entry, 0, len(m.sessions))
		for _, e := range m.sessions {
			entries = append(entries, e)
		}
		m.mu.Unlock()

		close(m.stopCh)

		for _, e := range entries {
			e.mu.Lock()
			e.stopDriver()
			e.mu.Unlock()
		}

		m.wg.Wait()

		m.logger.Info("session manager stopped", zap.Int("sessions", len(entries)))
	})
}
