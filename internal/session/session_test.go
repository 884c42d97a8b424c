package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/colortag/server/internal/game"
)

// fixedRand scripts the session's randomness: every grant roll returns
// roll, every digit/kind draw returns n.
type fixedRand struct {
	roll float64
	n    int
}

func (r fixedRand) Float64() float64 { return r.roll }
func (r fixedRand) Intn(m int) int   { return r.n % m }

func testParams() Params {
	p := DefaultParams()
	p.GameSeconds = 2
	p.PersistSeconds = 2
	return p
}

func newTestSession(t *testing.T, params Params, rng game.Rand) (*Session, chan string) {
	t.Helper()
	closed := make(chan string, 1)
	s := New(context.Background(), "ABCD", params, rng, zap.NewNop(), func(code string) {
		closed <- code
	})
	t.Cleanup(s.Stop)
	return s, closed
}

// helper: receive one decoded message with a timeout so tests never hang
func recvMsg(t *testing.T, ch <-chan []byte, within time.Duration) map[string]any {
	t.Helper()
	select {
	case data, ok := <-ch:
		if !ok {
			t.Fatalf("outbox closed unexpectedly")
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("bad json from session: %v", err)
		}
		return m
	case <-time.After(within):
		t.Fatalf("timed out waiting for message")
		return nil // unreachable
	}
}

func recvType(t *testing.T, ch <-chan []byte, want string) map[string]any {
	t.Helper()
	m := recvMsg(t, ch, 200*time.Millisecond)
	if m["type"] != want {
		t.Fatalf("want message type %q, got %+v", want, m)
	}
	return m
}

func recvNothing(t *testing.T, ch <-chan []byte, within time.Duration) {
	t.Helper()
	select {
	case m, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no message within %v, but got: %s", within, m)
	case <-time.After(within):
	}
}

func mustJoin(t *testing.T, s *Session, username, color string) (string, chan []byte) {
	t.Helper()
	out := make(chan []byte, 16)
	name, err := s.Join(username, color, out)
	if err != nil {
		t.Fatalf("join %s: %v", username, err)
	}
	return name, out
}

func mustSnapshot(t *testing.T, s *Session) View {
	t.Helper()
	v, ok := s.Snapshot()
	if !ok {
		t.Fatalf("session closed unexpectedly")
	}
	return v
}

func TestJoin_FirstPlayerBecomesAdmin(t *testing.T) {
	s, _ := newTestSession(t, testParams(), fixedRand{})

	name, out := mustJoin(t, s, "alice", "red")
	if name != "alice" {
		t.Fatalf("want username alice, got %q", name)
	}

	join := recvType(t, out, "playerJoin")
	if join["username"] != "alice" {
		t.Fatalf("playerJoin for wrong user: %+v", join)
	}

	update := recvType(t, out, "playerListUpdate")
	if update["admin"] != "alice" {
		t.Fatalf("want admin alice, got %+v", update)
	}
	list := update["playerList"].([]any)
	if len(list) != 1 {
		t.Fatalf("want 1 roster entry, got %d", len(list))
	}
	entry := list[0].(map[string]any)
	if entry["points"] != float64(50) || entry["color"] != "red" {
		t.Fatalf("unexpected roster entry: %+v", entry)
	}
}

func TestJoin_CollisionGetsDigitSuffix(t *testing.T) {
	s, _ := newTestSession(t, testParams(), fixedRand{n: 7})

	mustJoin(t, s, "alice", "red")
	name, _ := mustJoin(t, s, "alice", "blue")
	if name != "alice7" {
		t.Fatalf("want suffixed username alice7, got %q", name)
	}

	v := mustSnapshot(t, s)
	if len(v.Players) != 2 {
		t.Fatalf("want 2 players, got %d", len(v.Players))
	}
}

func TestJoin_CollisionRetriesExhausted(t *testing.T) {
	params := testParams()
	params.MaxNameAttempts = 0
	s, _ := newTestSession(t, params, fixedRand{n: 7})

	mustJoin(t, s, "alice", "red")
	out := make(chan []byte, 16)
	_, err := s.Join("alice", "blue", out)
	if !errors.Is(err, ErrUsernameExhausted) {
		t.Fatalf("want ErrUsernameExhausted, got %v", err)
	}
}

func TestLeave_AdminSuccessionByJoinOrder(t *testing.T) {
	s, _ := newTestSession(t, testParams(), fixedRand{})

	mustJoin(t, s, "alice", "red")
	mustJoin(t, s, "bob", "blue")
	_, outC := mustJoin(t, s, "carol", "green")

	s.Leave("alice")
	v := mustSnapshot(t, s)
	if v.Admin != "bob" {
		t.Fatalf("want admin bob after alice left, got %q", v.Admin)
	}

	s.Leave("bob")
	v = mustSnapshot(t, s)
	if v.Admin != "carol" {
		t.Fatalf("want admin carol after bob left, got %q", v.Admin)
	}

	// carol saw both quits, with the roster update trailing each
	recvType(t, outC, "playerJoin") // her own join pair
	recvType(t, outC, "playerListUpdate")
	recvType(t, outC, "playerQuit")
	recvType(t, outC, "playerListUpdate")
	recvType(t, outC, "playerQuit")
	update := recvType(t, outC, "playerListUpdate")
	if update["admin"] != "carol" {
		t.Fatalf("want admin carol in broadcast, got %+v", update)
	}
}

func TestLeave_LastConnectionClosesSession(t *testing.T) {
	s, closed := newTestSession(t, testParams(), fixedRand{})

	mustJoin(t, s, "alice", "red")
	s.Leave("alice")

	select {
	case code := <-closed:
		if code != "ABCD" {
			t.Fatalf("onClose got wrong code %q", code)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("session did not close after last player left")
	}

	if _, ok := s.Snapshot(); ok {
		t.Fatalf("snapshot should fail on a closed session")
	}
}

func TestTick_PersistCountdownWithSpectators(t *testing.T) {
	s, closed := newTestSession(t, testParams(), fixedRand{})

	mustJoin(t, s, "alice", "red")
	sout := make(chan []byte, 16)
	if err := s.JoinSpectator("spec-1", sout); err != nil {
		t.Fatalf("spectator join: %v", err)
	}
	recvType(t, sout, "playerListUpdate") // join snapshot

	s.Leave("alice")
	recvType(t, sout, "playerQuit")
	recvType(t, sout, "playerListUpdate")

	s.TryTick()
	v := mustSnapshot(t, s)
	if v.PersistTime != 1 {
		t.Fatalf("want persistTime 1 after one empty tick, got %d", v.PersistTime)
	}

	s.TryTick()
	recvType(t, sout, "sessionClose")

	select {
	case <-closed:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("session did not close after persist countdown")
	}

	// exactly one sessionClose: the outbox is closed right after it
	if m, ok := <-sout; ok {
		t.Fatalf("expected closed outbox after sessionClose, got: %s", m)
	}
}

func TestTick_PersistResetsWhilePlayersPresent(t *testing.T) {
	s, _ := newTestSession(t, testParams(), fixedRand{})

	mustJoin(t, s, "alice", "red")
	s.TryTick()
	s.TryTick()
	s.TryTick()

	v := mustSnapshot(t, s)
	if v.PersistTime != testParams().PersistSeconds {
		t.Fatalf("persistTime should stay pinned at default with players present, got %d", v.PersistTime)
	}
}

func TestStartGame_CountdownReachesFinished(t *testing.T) {
	s, _ := newTestSession(t, testParams(), fixedRand{roll: 1}) // never grant

	_, out := mustJoin(t, s, "alice", "red")
	recvType(t, out, "playerJoin")
	recvType(t, out, "playerListUpdate")

	s.StartGame("alice")
	start := recvType(t, out, "startGame")
	if start["timeLeft"] != float64(2) {
		t.Fatalf("want startGame timeLeft 2, got %+v", start)
	}

	s.TryTick()
	update := recvType(t, out, "gameUpdate")
	if update["timeLeft"] != float64(1) {
		t.Fatalf("want timeLeft 1, got %+v", update)
	}

	s.TryTick()
	update = recvType(t, out, "gameUpdate")
	if update["timeLeft"] != float64(0) {
		t.Fatalf("want timeLeft 0, got %+v", update)
	}

	v := mustSnapshot(t, s)
	if v.State != StateFinished {
		t.Fatalf("want state finished, got %q", v.State)
	}

	// Finished sessions stop ticking game state.
	s.TryTick()
	recvNothing(t, out, 100*time.Millisecond)

	// And startGame does not restart them.
	s.StartGame("alice")
	recvNothing(t, out, 100*time.Millisecond)
}

func TestHit_ScenarioThroughElimination(t *testing.T) {
	s, _ := newTestSession(t, testParams(), fixedRand{})

	_, outA := mustJoin(t, s, "alice", "red")
	_, outB := mustJoin(t, s, "bob", "blue")
	for i := 0; i < 4; i++ {
		recvMsg(t, outA, 200*time.Millisecond)
	}
	recvType(t, outB, "playerJoin")
	recvType(t, outB, "playerListUpdate")

	s.SubmitHit("alice", "blue", game.WeaponSniper)
	hit := recvType(t, outA, "hit")
	if hit["player"] != "alice" || hit["target"] != "bob" || hit["weapon"] != "sniper" {
		t.Fatalf("unexpected hit broadcast: %+v", hit)
	}
	recvType(t, outB, "hit")

	v := mustSnapshot(t, s)
	if got := v.Players["bob"].Points; got != 18 {
		t.Fatalf("want bob at 18 points, got %d", got)
	}
	if got := v.Players["alice"].Points; got != 66 {
		t.Fatalf("want alice at 66 points, got %d", got)
	}

	// Second sniper hit clamps bob at zero and eliminates him.
	s.SubmitHit("alice", "blue", game.WeaponSniper)
	recvType(t, outA, "hit")
	elim := recvType(t, outA, "elimination")
	if elim["player"] != "bob" || elim["weapon"] != "sniper" {
		t.Fatalf("unexpected elimination: %+v", elim)
	}

	// Third hit against the eliminated target is a silent no-op.
	s.SubmitHit("alice", "blue", game.WeaponSniper)
	recvNothing(t, outA, 100*time.Millisecond)

	v = mustSnapshot(t, s)
	if got := v.Players["bob"].Points; got != 0 {
		t.Fatalf("want bob at 0 points, got %d", got)
	}
	if got := v.Players["alice"].HitsGiven; got != 2 {
		t.Fatalf("want alice hitsGiven 2, got %d", got)
	}
}

func TestFrameRelay_LatestFrameToSpectatorsOnly(t *testing.T) {
	s, _ := newTestSession(t, testParams(), fixedRand{})

	_, outA := mustJoin(t, s, "alice", "red")
	recvType(t, outA, "playerJoin")
	recvType(t, outA, "playerListUpdate")

	sout := make(chan []byte, 16)
	if err := s.JoinSpectator("spec-1", sout); err != nil {
		t.Fatalf("spectator join: %v", err)
	}
	recvType(t, sout, "playerListUpdate")

	s.SubmitFrame("alice", "frame-1")
	batch := recvType(t, sout, "cameraFramesBatch")
	frames := batch["frames"].([]any)
	if len(frames) != 1 {
		t.Fatalf("want 1 frame, got %d", len(frames))
	}
	recvNothing(t, outA, 100*time.Millisecond) // players never see frames

	// Only the most recent frame per player is retained.
	s.SubmitFrame("alice", "frame-2")
	batch = recvType(t, sout, "cameraFramesBatch")
	frames = batch["frames"].([]any)
	entry := frames[0].(map[string]any)
	if len(frames) != 1 || entry["frame"] != "frame-2" {
		t.Fatalf("want single latest frame-2, got %+v", frames)
	}
}

func TestTick_PowerUpGrantGoesToRecipientOnly(t *testing.T) {
	params := testParams()
	params.GameSeconds = 5
	params.PowerUpChance = 1
	params.PowerUpTicks = 4
	s, _ := newTestSession(t, params, fixedRand{roll: 0}) // always grant kind 0

	_, out := mustJoin(t, s, "alice", "red")
	recvType(t, out, "playerJoin")
	recvType(t, out, "playerListUpdate")

	sout := make(chan []byte, 16)
	if err := s.JoinSpectator("spec-1", sout); err != nil {
		t.Fatalf("spectator join: %v", err)
	}
	recvType(t, sout, "playerListUpdate")

	s.StartGame("alice")
	recvType(t, out, "startGame")
	recvType(t, sout, "startGame")

	s.TryTick()
	recvType(t, out, "gameUpdate")
	notice := recvType(t, out, "powerup")
	if notice["powerup"] != string(game.PowerUpInvincibility) || notice["duration"] != float64(4) {
		t.Fatalf("unexpected powerup notice: %+v", notice)
	}

	// Spectators see the game update but never the individual grant.
	recvType(t, sout, "gameUpdate")
	recvNothing(t, sout, 100*time.Millisecond)

	v := mustSnapshot(t, s)
	if got := v.Players["alice"].PowerUps[game.PowerUpInvincibility]; got != 4 {
		t.Fatalf("want invincibility at 4 ticks, got %d", got)
	}
}

func TestTick_PowerUpGrantSkipsEliminatedPlayers(t *testing.T) {
	params := testParams()
	params.GameSeconds = 5
	params.PowerUpChance = 1
	params.PowerUpTicks = 4
	s, _ := newTestSession(t, params, fixedRand{roll: 0}) // always grant kind 0

	_, outA := mustJoin(t, s, "alice", "red")
	_, outB := mustJoin(t, s, "bob", "blue")
	recvType(t, outA, "playerJoin")
	recvType(t, outA, "playerListUpdate")
	recvType(t, outA, "playerJoin")
	recvType(t, outA, "playerListUpdate")
	recvType(t, outB, "playerJoin")
	recvType(t, outB, "playerListUpdate")

	// Two sniper shots put bob at zero.
	s.SubmitHit("alice", "blue", game.WeaponSniper)
	s.SubmitHit("alice", "blue", game.WeaponSniper)
	for _, out := range []chan []byte{outA, outB} {
		recvType(t, out, "hit")
		recvType(t, out, "hit")
		recvType(t, out, "elimination")
	}

	s.StartGame("alice")
	recvType(t, outA, "startGame")
	recvType(t, outB, "startGame")

	s.TryTick()
	recvType(t, outA, "gameUpdate")
	recvType(t, outA, "powerup")
	recvType(t, outB, "gameUpdate")
	recvNothing(t, outB, 100*time.Millisecond) // no grant for the eliminated

	v := mustSnapshot(t, s)
	if got := v.Players["alice"].PowerUps[game.PowerUpInvincibility]; got != 4 {
		t.Fatalf("want alice granted invincibility for 4 ticks, got %d", got)
	}
	if got := len(v.Players["bob"].PowerUps); got != 0 {
		t.Fatalf("eliminated player must not be granted power-ups, got %d", got)
	}
}

func TestCheckColor(t *testing.T) {
	s, _ := newTestSession(t, testParams(), fixedRand{})
	mustJoin(t, s, "alice", "red")

	if s.CheckColor("red") {
		t.Fatalf("red is taken, want unavailable")
	}
	if !s.CheckColor("green") {
		t.Fatalf("green is free, want available")
	}
}
