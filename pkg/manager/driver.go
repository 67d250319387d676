package manager

import (
	"time"

	"go.uber.org/zap"

	"github.com/tecu23/match-server/pkg/events"
	"github.com/tecu23/match-server/pkg/game"
)

// driver is the cancellation handle of one session's clock goroutine. It is
// stored on the registry entry and compared on every tick, so a tick that
// raced with stopDriver never touches the session.
type driver struct {
	stop chan struct{}
}

// stopDriver cancels the clock driver, if any. The caller holds e.mu.
func (e *entry) stopDriver() {
	if e.driver == nil {
		return
	}

	close(e.driver.stop)
	e.driver = nil
}

// startDriver launches the clock driver of a session that just became
// active. The caller holds e.mu.
func (m *Manager) startDriver(id string, e *entry) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return
	}

	d := &driver{stop: make(chan struct{})}
	e.driver = d

	m.drivers.Add(1)
	m.wg.Add(1)
	go m.runDriver(id, e, d)
}

func (m *Manager) runDriver(id string, e *entry, d *driver) {
	defer m.wg.Done()
	defer m.drivers.Add(-1)

	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if !m.tick(id, e, d) {
				return
			}
		}
	}
}

// tick advances the session clock by one second. It reports whether the
// driver should keep running.
func (m *Manager) tick(id string, e *entry, d *driver) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed || e.driver != d {
		return false
	}

	timedOut, side := e.session.Tick()
	if !timedOut {
		if e.session.Status() != game.StatusActive {
			e.stopDriver()
			return false
		}

		m.publish(events.EventClockTick, id, e.session.ClockState())
		return true
	}

	e.stopDriver()
	e.finished.Store(true)

	snap := e.session.Snapshot()
	m.publish(events.EventTimeUp, id, TimeUpPayload{Color: side, Session: snap})
	m.publish(events.EventSessionFinished, id, snap)

	m.logger.Info("player time expired",
		zap.String("session_id", id),
		zap.String("color", string(side)),
		zap.String("winner", string(snap.Winner)),
	)

	return false
}
