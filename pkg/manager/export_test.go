package manager

// TickNow runs one clock tick of the session's current driver synchronously.
// It reports false when the session has no running driver or the tick ended it.
func (m *Manager) TickNow(id string) bool {
	e, err := m.lookup(id)
	if err != nil {
		return false
	}

	e.mu.RLock()
	d := e.driver
	e.mu.RUnlock()

	if d == nil {
		return false
	}

	return m.tick(id, e, d)
}
