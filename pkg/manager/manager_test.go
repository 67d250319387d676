package manager_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tecu23/match-server/internal/color"
	"github.com/tecu23/match-server/pkg/chess"
	"github.com/tecu23/match-server/pkg/events"
	"github.com/tecu23/match-server/pkg/game"
	"github.com/tecu23/match-server/pkg/manager"
)

type fakeTime struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeTime() *fakeTime {
	return &fakeTime{t: time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)}
}

func (f *fakeTime) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeTime) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types(sessionID string) []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []events.EventType
	for _, e := range r.events {
		if e.SessionID == sessionID {
			out = append(out, e.Type)
		}
	}
	return out
}

func (r *recorder) last(sessionID string, t events.EventType) (events.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].SessionID == sessionID && r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return events.Event{}, false
}

var e2e4 = chess.Move{From: "e2", To: "e4", Notation: "e4"}

// newTestManager builds a manager whose drivers never fire on their own, so
// ticks only happen through TickNow.
func newTestManager(t *testing.T, opts ...manager.Option) (*manager.Manager, *recorder, *fakeTime) {
	t.Helper()

	rec := &recorder{}
	ft := newFakeTime()

	all := append([]manager.Option{
		manager.WithTickInterval(time.Hour),
		manager.WithClock(ft.now),
	}, opts...)

	m := manager.NewManager(rec, zaptest.NewLogger(t), all...)
	t.Cleanup(m.Shutdown)

	return m, rec, ft
}

func startSession(t *testing.T, m *manager.Manager, id, tc string) {
	t.Helper()

	_, err := m.CreateSession(id, tc)
	require.NoError(t, err)
	_, _, err = m.JoinSession(id, id+"-white", "White")
	require.NoError(t, err)
	_, _, err = m.JoinSession(id, id+"-black", "Black")
	require.NoError(t, err)
}

func TestCreateSession(t *testing.T) {
	m, rec, _ := newTestManager(t)

	snap, err := m.CreateSession("g1", "10+5")
	require.NoError(t, err)
	assert.Equal(t, "g1", snap.ID)
	assert.Equal(t, game.StatusWaiting, snap.Status)
	assert.Equal(t, int64(600), snap.Clock.White)
	assert.Equal(t, int64(5), snap.Clock.Increment)
	assert.Equal(t, []events.EventType{events.EventSessionCreated}, rec.types("g1"))

	_, err = m.CreateSession("g1", "3")
	assert.ErrorIs(t, err, game.ErrSessionExists)

	_, err = m.CreateSession("g2", "fast")
	assert.ErrorIs(t, err, game.ErrInvalidTimeControl)

	generated, err := m.CreateSession("", "3")
	require.NoError(t, err)
	_, err = uuid.Parse(generated.ID)
	assert.NoError(t, err)

	assert.Equal(t, 2, m.Len())
}

func TestJoinSession(t *testing.T) {
	m, rec, _ := newTestManager(t)

	_, err := m.CreateSession("g1", "5+3")
	require.NoError(t, err)

	side, snap, err := m.JoinSession("g1", "alice", "Alice")
	require.NoError(t, err)
	assert.Equal(t, color.White, side)
	assert.Equal(t, game.StatusWaiting, snap.Status)
	assert.Zero(t, m.ActiveDrivers())

	side, snap, err = m.JoinSession("g1", "bob", "Bob")
	require.NoError(t, err)
	assert.Equal(t, color.Black, side)
	assert.Equal(t, game.StatusActive, snap.Status)
	assert.Equal(t, color.White, snap.Clock.ActiveColor)
	assert.Equal(t, int64(300), snap.Clock.White)
	assert.Equal(t, int64(1), m.ActiveDrivers())

	_, _, err = m.JoinSession("g1", "carol", "Carol")
	assert.ErrorIs(t, err, game.ErrSessionFull)

	got, err := m.GetSession("g1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.White.ConnectionID)
	assert.Equal(t, "bob", got.Black.ConnectionID)

	assert.Equal(t, []events.EventType{
		events.EventSessionCreated,
		events.EventPlayerJoined,
		events.EventPlayerJoined,
		events.EventSessionStarted,
		events.EventClockTick,
	}, rec.types("g1"))
}

func TestJoinSessionErrors(t *testing.T) {
	m, _, _ := newTestManager(t)

	_, _, err := m.JoinSession("missing", "alice", "Alice")
	assert.ErrorIs(t, err, game.ErrSessionNotFound)

	_, err = m.CreateSession("g1", "1")
	require.NoError(t, err)

	_, _, err = m.JoinSession("g1", "", "nobody")
	assert.ErrorIs(t, err, game.ErrInvalidConnection)

	_, _, err = m.JoinSession("g1", "alice", "Alice")
	require.NoError(t, err)
	_, _, err = m.JoinSession("g1", "alice", "Alice")
	assert.ErrorIs(t, err, game.ErrAlreadyJoined)
}

func TestConnectionHoldsOneUnfinishedSession(t *testing.T) {
	m, _, _ := newTestManager(t)

	startSession(t, m, "g1", "1")
	_, err := m.CreateSession("g2", "1")
	require.NoError(t, err)

	_, _, err = m.JoinSession("g2", "g1-white", "again")
	assert.ErrorIs(t, err, game.ErrAlreadyInSession)

	_, err = m.Resign("g1", "g1-black")
	require.NoError(t, err)

	side, _, err := m.JoinSession("g2", "g1-white", "again")
	require.NoError(t, err)
	assert.Equal(t, color.White, side)

	snap, err := m.GetSessionForConnection("g1-white")
	require.NoError(t, err)
	assert.Equal(t, "g2", snap.ID)
}

func TestApplyMove(t *testing.T) {
	m, rec, ft := newTestManager(t)
	startSession(t, m, "g1", "5+3")

	ft.advance(4 * time.Second)
	snap, err := m.ApplyMove("g1", "g1-white", e2e4, "fen-1")
	require.NoError(t, err)
	assert.Equal(t, color.Black, snap.Turn)
	assert.Equal(t, "fen-1", snap.Position)
	assert.Equal(t, int64(303), snap.Clock.White)
	assert.Equal(t, color.Black, snap.Clock.ActiveColor)
	require.Len(t, snap.Moves, 1)
	assert.Equal(t, int64(4), snap.Moves[0].TimeSpent)

	_, err = m.ApplyMove("g1", "g1-white", e2e4, "fen-2")
	assert.ErrorIs(t, err, game.ErrNotYourTurn)

	_, err = m.ApplyMove("missing", "g1-black", e2e4, "fen-2")
	assert.ErrorIs(t, err, game.ErrSessionNotFound)

	_, err = m.ApplyMove("g1", "", e2e4, "fen-2")
	assert.ErrorIs(t, err, game.ErrInvalidConnection)

	ev, ok := rec.last("g1", events.EventClockTick)
	require.True(t, ok)
	state, ok := ev.Payload.(chess.ClockState)
	require.True(t, ok)
	assert.Equal(t, color.Black, state.ActiveColor)
}

func TestTimeoutScenario(t *testing.T) {
	m, rec, _ := newTestManager(t)

	_, err := m.CreateSession("g1", "5+3")
	require.NoError(t, err)
	side, _, err := m.JoinSession("g1", "alice", "alice")
	require.NoError(t, err)
	assert.Equal(t, color.White, side)
	side, snap, err := m.JoinSession("g1", "bob", "bob")
	require.NoError(t, err)
	assert.Equal(t, color.Black, side)
	assert.Equal(t, game.StatusActive, snap.Status)
	assert.Equal(t, int64(300), snap.Clock.White)

	snap, err = m.ApplyMove("g1", "alice", e2e4, "fen")
	require.NoError(t, err)
	assert.Equal(t, int64(303), snap.Clock.White)
	assert.Equal(t, color.Black, snap.Clock.ActiveColor)

	for i := 0; i < 299; i++ {
		require.True(t, m.TickNow("g1"), "tick %d", i)
	}
	assert.False(t, m.TickNow("g1"), "the 300th tick flags black")

	snap, err = m.GetSession("g1")
	require.NoError(t, err)
	assert.Equal(t, game.StatusFinished, snap.Status)
	assert.Equal(t, game.WinnerWhite, snap.Winner)
	assert.Equal(t, game.ReasonTimeout, snap.Reason)
	assert.Zero(t, snap.Clock.Black)
	assert.Equal(t, int64(303), snap.Clock.White)

	// the driver is gone; nothing ticks any more
	assert.False(t, m.TickNow("g1"))
	require.Eventually(t, func() bool { return m.ActiveDrivers() == 0 }, time.Second, time.Millisecond)

	after, err := m.GetSession("g1")
	require.NoError(t, err)
	assert.Equal(t, snap.Clock, after.Clock)

	ev, ok := rec.last("g1", events.EventTimeUp)
	require.True(t, ok)
	payload, ok := ev.Payload.(manager.TimeUpPayload)
	require.True(t, ok)
	assert.Equal(t, color.Black, payload.Color)

	types := rec.types("g1")
	assert.Equal(t, events.EventSessionFinished, types[len(types)-1])
}

func TestTickingOneSessionLeavesOthersAlone(t *testing.T) {
	m, _, _ := newTestManager(t)
	startSession(t, m, "a", "1")
	startSession(t, m, "b", "1")

	before, err := m.GetSession("b")
	require.NoError(t, err)

	for i := 0; i < 59; i++ {
		require.True(t, m.TickNow("a"))
	}
	assert.False(t, m.TickNow("a"))

	a, err := m.GetSession("a")
	require.NoError(t, err)
	assert.Equal(t, game.StatusFinished, a.Status)

	after, err := m.GetSession("b")
	require.NoError(t, err)
	assert.Equal(t, game.StatusActive, after.Status)
	assert.Equal(t, before.Clock, after.Clock)
	require.Eventually(t, func() bool { return m.ActiveDrivers() == 1 }, time.Second, time.Millisecond)
}

func TestResign(t *testing.T) {
	m, rec, _ := newTestManager(t)
	startSession(t, m, "g1", "1")

	snap, err := m.Resign("g1", "g1-white")
	require.NoError(t, err)
	assert.Equal(t, game.StatusFinished, snap.Status)
	assert.Equal(t, game.WinnerBlack, snap.Winner)
	assert.Equal(t, game.ReasonResignation, snap.Reason)
	assert.False(t, m.TickNow("g1"))

	_, err = m.Resign("g1", "g1-black")
	assert.ErrorIs(t, err, game.ErrSessionNotActive)

	got, err := m.GetSession("g1")
	require.NoError(t, err)
	assert.Equal(t, game.WinnerBlack, got.Winner)

	_, err = m.Resign("g1", "stranger")
	assert.ErrorIs(t, err, game.ErrNotAParticipant)

	_, err = m.Resign("missing", "g1-white")
	assert.ErrorIs(t, err, game.ErrSessionNotFound)

	_, ok := rec.last("g1", events.EventSessionFinished)
	assert.True(t, ok)
	require.Eventually(t, func() bool { return m.ActiveDrivers() == 0 }, time.Second, time.Millisecond)
}

func TestConclude(t *testing.T) {
	m, _, _ := newTestManager(t)
	startSession(t, m, "g1", "1")

	_, err := m.Conclude("g1", game.Outcome{Winner: game.WinnerDraw, Reason: game.ReasonCheckmate})
	assert.ErrorIs(t, err, game.ErrInvalidOutcome)

	snap, err := m.Conclude("g1", game.Outcome{Winner: game.WinnerDraw, Reason: game.ReasonDraw})
	require.NoError(t, err)
	assert.Equal(t, game.StatusFinished, snap.Status)
	assert.Equal(t, game.WinnerDraw, snap.Winner)
	assert.False(t, m.TickNow("g1"))
}

func TestRemoveParticipant(t *testing.T) {
	t.Run("active session is forfeited", func(t *testing.T) {
		m, rec, _ := newTestManager(t)
		startSession(t, m, "g1", "1")

		snap, err := m.RemoveParticipant("g1-black")
		require.NoError(t, err)
		assert.Equal(t, game.StatusFinished, snap.Status)
		assert.Equal(t, game.WinnerWhite, snap.Winner)
		assert.Equal(t, game.ReasonResignation, snap.Reason)
		assert.Nil(t, snap.Black)
		assert.False(t, m.TickNow("g1"))

		_, err = m.GetSessionForConnection("g1-black")
		assert.ErrorIs(t, err, game.ErrSessionNotFound)

		_, err = m.RemoveParticipant("g1-black")
		assert.ErrorIs(t, err, game.ErrNotAParticipant)

		ev, ok := rec.last("g1", events.EventPlayerLeft)
		require.True(t, ok)
		payload := ev.Payload.(manager.PlayerPayload)
		assert.Equal(t, color.Black, payload.Color)
	})

	t.Run("waiting session keeps waiting", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		_, err := m.CreateSession("g1", "1")
		require.NoError(t, err)
		_, _, err = m.JoinSession("g1", "alice", "Alice")
		require.NoError(t, err)

		snap, err := m.RemoveParticipant("alice")
		require.NoError(t, err)
		assert.Equal(t, game.StatusWaiting, snap.Status)
		assert.Nil(t, snap.White)

		side, _, err := m.JoinSession("g1", "carol", "Carol")
		require.NoError(t, err)
		assert.Equal(t, color.White, side)
	})

	t.Run("malformed connection", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		_, err := m.RemoveParticipant("")
		assert.ErrorIs(t, err, game.ErrInvalidConnection)
		_, err = m.RemoveParticipant("unknown")
		assert.ErrorIs(t, err, game.ErrNotAParticipant)
	})
}

func TestReap(t *testing.T) {
	m, rec, ft := newTestManager(t, manager.WithStaleAfter(30*time.Minute))

	startSession(t, m, "busy", "60")
	startSession(t, m, "idle", "60")
	_, err := m.CreateSession("lonely", "60")
	require.NoError(t, err)

	ft.advance(25 * time.Minute)
	_, err = m.ApplyMove("busy", "busy-white", e2e4, "fen")
	require.NoError(t, err)

	ft.advance(10 * time.Minute)
	assert.Equal(t, 2, m.Reap())

	_, err = m.GetSession("busy")
	assert.NoError(t, err, "a recent move keeps an old session alive")

	_, err = m.GetSession("idle")
	assert.ErrorIs(t, err, game.ErrSessionNotFound)
	_, err = m.GetSession("lonely")
	assert.ErrorIs(t, err, game.ErrSessionNotFound)

	_, err = m.GetSessionForConnection("idle-white")
	assert.ErrorIs(t, err, game.ErrSessionNotFound)
	assert.False(t, m.TickNow("idle"))

	_, ok := rec.last("idle", events.EventSessionReaped)
	assert.True(t, ok)

	assert.Equal(t, 1, m.Len())
	require.Eventually(t, func() bool { return m.ActiveDrivers() == 1 }, time.Second, time.Millisecond)

	// a reaped connection is free to play again
	_, err = m.CreateSession("fresh", "1")
	require.NoError(t, err)
	_, _, err = m.JoinSession("fresh", "idle-white", "Back")
	assert.NoError(t, err)

	assert.Zero(t, m.Reap())
}

func TestReapExactlyAtWindowKeepsSession(t *testing.T) {
	m, _, ft := newTestManager(t, manager.WithStaleAfter(time.Minute))
	_, err := m.CreateSession("g1", "1")
	require.NoError(t, err)

	ft.advance(time.Minute)
	assert.Zero(t, m.Reap())

	ft.advance(time.Second)
	assert.Equal(t, 1, m.Reap())
}

func TestDriverTimesOutInRealTime(t *testing.T) {
	rec := &recorder{}
	m := manager.NewManager(rec, zaptest.NewLogger(t), manager.WithTickInterval(2*time.Millisecond))
	defer m.Shutdown()

	// 0.05 minutes is three seconds, three ticks
	startSession(t, m, "g1", "0.05")

	require.Eventually(t, func() bool {
		snap, err := m.GetSession("g1")
		return err == nil && snap.Status == game.StatusFinished
	}, 2*time.Second, time.Millisecond)

	snap, err := m.GetSession("g1")
	require.NoError(t, err)
	assert.Equal(t, game.WinnerBlack, snap.Winner)
	assert.Equal(t, game.ReasonTimeout, snap.Reason)
	assert.Zero(t, snap.Clock.White)
	assert.Equal(t, int64(3), snap.Clock.Black)

	require.Eventually(t, func() bool { return m.ActiveDrivers() == 0 }, time.Second, time.Millisecond)
}

func TestShutdownStopsDrivers(t *testing.T) {
	m := manager.NewManager(nil, nil, manager.WithTickInterval(time.Millisecond))
	m.Start()

	for i := 0; i < 5; i++ {
		startSession(t, m, fmt.Sprintf("g%d", i), "10")
	}
	assert.Equal(t, int64(5), m.ActiveDrivers())

	m.Shutdown()
	assert.Zero(t, m.ActiveDrivers())

	// nothing starts once the manager is down
	startSession(t, m, "late", "10")
	assert.Zero(t, m.ActiveDrivers())
	m.Start()
	m.Shutdown()
}

func TestConcurrentMovesOnOneSessionAreSerialized(t *testing.T) {
	m, _, _ := newTestManager(t)
	startSession(t, m, "g1", "10+1")

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for _, conn := range []string{"g1-white", "g1-black"} {
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(conn string) {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					if _, err := m.ApplyMove("g1", conn, e2e4, "fen"); err == nil {
						accepted.Add(1)
					}
					m.TickNow("g1")
				}
			}(conn)
		}
	}
	wg.Wait()

	snap, err := m.GetSession("g1")
	require.NoError(t, err)
	require.Len(t, snap.Moves, int(accepted.Load()))

	for i, mv := range snap.Moves {
		if i%2 == 0 {
			assert.Equal(t, color.White, mv.Color)
		} else {
			assert.Equal(t, color.Black, mv.Color)
		}
	}

	state := snap.Clock
	assert.Equal(t, int64(1200), state.White+state.Black-state.Credited+state.Ticked)
}

func TestStress_ManySessions(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	m := manager.NewManager(events.NewChannelSink(16), zaptest.NewLogger(t), manager.WithTickInterval(time.Millisecond))
	m.Start()
	defer m.Shutdown()

	const sessions = 50

	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			id := fmt.Sprintf("s%d", i)
			if _, err := m.CreateSession(id, "30+1"); err != nil {
				t.Errorf("create %s: %v", id, err)
				return
			}
			white, black := id+"-w", id+"-b"
			if _, _, err := m.JoinSession(id, white, "w"); err != nil {
				t.Errorf("join %s: %v", id, err)
				return
			}
			if _, _, err := m.JoinSession(id, black, "b"); err != nil {
				t.Errorf("join %s: %v", id, err)
				return
			}

			for j := 0; j < 20; j++ {
				conn := white
				if j%2 == 1 {
					conn = black
				}
				if _, err := m.ApplyMove(id, conn, e2e4, "fen"); err != nil {
					t.Errorf("move %s/%d: %v", id, j, err)
					return
				}
				_, _ = m.GetSession(id)
			}

			if _, err := m.Resign(id, white); err != nil {
				t.Errorf("resign %s: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < sessions; i++ {
		snap, err := m.GetSession(fmt.Sprintf("s%d", i))
		require.NoError(t, err)
		assert.Len(t, snap.Moves, 20)
		assert.Equal(t, game.StatusFinished, snap.Status)
	}

	require.Eventually(t, func() bool { return m.ActiveDrivers() == 0 }, time.Second, time.Millisecond)
}
