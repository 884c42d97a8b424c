// Package session holds the aggregate root of one game: its player and
// spectator rosters, admin, lifecycle state, countdown, and frame cache.
//
// Each Session is owned by a single goroutine consuming a typed message
// inbox, so joins, hits, disconnects and ticks never interleave. The
// exported methods wrap the inbox sends and guard against the session
// shutting down mid-call.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/colortag/server/internal/game"
	"github.com/colortag/server/internal/protocol"
)

var ErrSessionClosed = errors.New("session closed")
var ErrUsernameExhausted = errors.New("could not find a free username")

type State string

const (
	StateLobby    State = "lobby"
	StateGame     State = "game"
	StateFinished State = "finished"
)

type Params struct {
	GameSeconds     int
	PersistSeconds  int
	StartPoints     int
	PowerUpChance   float64
	PowerUpTicks    int
	MaxNameAttempts int
}

func DefaultParams() Params {
	return Params{
		GameSeconds:     60,
		PersistSeconds:  10,
		StartPoints:     game.DefaultStartPoints,
		PowerUpChance:   0.06,
		PowerUpTicks:    10,
		MaxNameAttempts: 16,
	}
}

type Session struct {
	code   string
	params Params
	rng    game.Rand
	log    *zap.Logger

	inbox  chan msg
	ctx    context.Context
	cancel context.CancelFunc

	// Everything below is touched only by the loop goroutine.
	state        State
	admin        string
	timeLeft     int
	persistTime  int
	players      map[string]*game.Player
	conns        map[string]chan []byte
	spectators   map[string]chan []byte
	latestFrames map[string]string
	nextSeq      int
	closed       bool
	onClose      func(code string)
}

// New starts a session actor. onClose is invoked once, after the session
// has shut itself down (last connection gone, or persist countdown hit
// zero), so the owner can drop it from its table. It is not invoked when
// the parent context is cancelled.
func New(parent context.Context, code string, params Params, rng game.Rand, log *zap.Logger, onClose func(code string)) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		code:         code,
		params:       params,
		rng:          rng,
		log:          log.With(zap.String("session", code)),
		inbox:        make(chan msg, 64),
		ctx:          ctx,
		cancel:       cancel,
		state:        StateLobby,
		persistTime:  params.PersistSeconds,
		players:      make(map[string]*game.Player),
		conns:        make(map[string]chan []byte),
		spectators:   make(map[string]chan []byte),
		latestFrames: make(map[string]string),
		onClose:      onClose,
	}
	go s.loop()
	return s
}

func (s *Session) Code() string { return s.code }

// Stop shuts the session down without the onClose notification.
func (s *Session) Stop() { s.cancel() }

// Join adds a player and returns the username actually assigned, which may
// carry random digit suffixes if the requested one was taken.
func (s *Session) Join(username, color string, outbox chan []byte) (string, error) {
	reply := make(chan joinResult, 1)
	if !s.send(joinReq{Username: username, Color: color, Outbox: outbox, Reply: reply}) {
		return "", ErrSessionClosed
	}
	select {
	case res := <-reply:
		return res.Username, res.Err
	case <-s.ctx.Done():
		return "", ErrSessionClosed
	}
}

// Leave detaches a player and blocks until the roster mutation and quit
// broadcasts have been processed, so the caller can safely tear down the
// connection afterwards.
func (s *Session) Leave(username string) {
	done := make(chan struct{})
	if !s.send(leaveReq{Username: username, Done: done}) {
		return
	}
	select {
	case <-done:
	case <-s.ctx.Done():
	}
}

func (s *Session) JoinSpectator(id string, outbox chan []byte) error {
	if !s.send(spectatorJoinReq{ID: id, Outbox: outbox}) {
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) LeaveSpectator(id string) {
	done := make(chan struct{})
	if !s.send(spectatorLeaveReq{ID: id, Done: done}) {
		return
	}
	select {
	case <-done:
	case <-s.ctx.Done():
	}
}

func (s *Session) SubmitHit(attacker, targetColor string, weapon game.Weapon) {
	s.send(hitCmd{Attacker: attacker, Color: targetColor, Weapon: weapon})
}

func (s *Session) StartGame(from string) {
	s.send(startCmd{From: from})
}

func (s *Session) SubmitFrame(username, frame string) {
	s.send(frameCmd{Username: username, Frame: frame})
}

// CheckColor reports whether no current player uses color. A session that
// has already closed behaves like one that never existed: everything is
// available.
func (s *Session) CheckColor(color string) bool {
	reply := make(chan bool, 1)
	if !s.send(colorCheckReq{Color: color, Reply: reply}) {
		return true
	}
	select {
	case ok := <-reply:
		return ok
	case <-s.ctx.Done():
		return true
	}
}

// TryTick delivers one scheduler tick without blocking; a session whose
// inbox is saturated simply misses the tick.
func (s *Session) TryTick() {
	select {
	case s.inbox <- tick{}:
	default:
	}
}

func (s *Session) send(m msg) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.inbox <- m:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown(false)
			return

		case m := <-s.inbox:
			if s.handle(m) {
				return
			}
		}
	}
}

// handle processes one message; a true return means the session closed.
func (s *Session) handle(m msg) bool {
	switch msg := m.(type) {
	case joinReq:
		s.handleJoin(msg)
	case leaveReq:
		return s.handleLeave(msg)
	case spectatorJoinReq:
		s.handleSpectatorJoin(msg)
	case spectatorLeaveReq:
		return s.handleSpectatorLeave(msg)
	case hitCmd:
		s.handleHit(msg)
	case startCmd:
		s.handleStart(msg)
	case frameCmd:
		s.handleFrame(msg)
	case colorCheckReq:
		msg.Reply <- game.ColorAvailable(s.players, msg.Color)
	case tick:
		return s.handleTick()
	case getView:
		msg.Reply <- s.view()
	}
	return false
}

func (s *Session) handleJoin(req joinReq) {
	name := req.Username
	for attempts := 0; ; attempts++ {
		if _, taken := s.players[name]; !taken {
			break
		}
		if attempts >= s.params.MaxNameAttempts {
			req.Reply <- joinResult{Err: ErrUsernameExhausted}
			return
		}
		name += strconv.Itoa(s.rng.Intn(10))
	}

	s.players[name] = game.NewPlayer(name, req.Color, s.params.StartPoints, s.nextSeq)
	s.conns[name] = req.Outbox
	s.nextSeq++
	if s.admin == "" {
		s.admin = name
	}
	s.persistTime = s.params.PersistSeconds

	s.log.Info("player joined",
		zap.String("username", name),
		zap.String("color", req.Color),
		zap.Bool("admin", s.admin == name))

	s.broadcast(encode(protocol.PlayerJoin{Type: protocol.TypePlayerJoin, Username: name}), true, true)
	s.broadcast(encode(s.playerListUpdate()), true, true)

	req.Reply <- joinResult{Username: name}
}

func (s *Session) handleLeave(req leaveReq) bool {
	out, ok := s.conns[req.Username]
	if !ok {
		close(req.Done)
		return false
	}
	delete(s.players, req.Username)
	delete(s.conns, req.Username)
	delete(s.latestFrames, req.Username)
	close(out)

	if s.admin == req.Username {
		s.admin = s.nextAdmin()
	}

	s.log.Info("player quit",
		zap.String("username", req.Username),
		zap.String("admin", s.admin))

	s.broadcast(encode(protocol.PlayerQuit{Type: protocol.TypePlayerQuit, Username: req.Username}), true, true)
	s.broadcast(encode(s.playerListUpdate()), true, true)

	close(req.Done)

	if len(s.players) == 0 && len(s.spectators) == 0 {
		s.shutdown(true)
		return true
	}
	return false
}

// nextAdmin picks the remaining player with the lowest join sequence, or ""
// when the roster is empty. Join order is the tie-break so succession does
// not depend on map iteration order.
func (s *Session) nextAdmin() string {
	next := ""
	best := -1
	for name, p := range s.players {
		if best == -1 || p.JoinSeq < best {
			next = name
			best = p.JoinSeq
		}
	}
	return next
}

func (s *Session) handleSpectatorJoin(req spectatorJoinReq) {
	s.spectators[req.ID] = req.Outbox
	s.log.Info("spectator joined", zap.String("spectator", req.ID))

	// Snapshot so the spectator lobby renders before the next roster change.
	trySend(req.Outbox, encode(s.playerListUpdate()))
}

func (s *Session) handleSpectatorLeave(req spectatorLeaveReq) bool {
	out, ok := s.spectators[req.ID]
	if !ok {
		close(req.Done)
		return false
	}
	delete(s.spectators, req.ID)
	close(out)
	s.log.Info("spectator left", zap.String("spectator", req.ID))

	close(req.Done)

	if len(s.players) == 0 && len(s.spectators) == 0 {
		s.shutdown(true)
		return true
	}
	return false
}

func (s *Session) handleHit(cmd hitCmd) {
	res, ok := game.ResolveHit(s.players, cmd.Attacker, cmd.Color, cmd.Weapon)
	if !ok {
		return
	}

	s.log.Debug("hit resolved",
		zap.String("attacker", res.Attacker),
		zap.String("target", res.Target),
		zap.String("weapon", string(res.Weapon)),
		zap.Int("damage", res.Damage),
		zap.Bool("eliminated", res.Eliminated))

	s.broadcast(encode(protocol.Hit{
		Type:   protocol.TypeHit,
		Player: res.Attacker,
		Target: res.Target,
		Weapon: string(res.Weapon),
	}), true, true)

	if res.Eliminated {
		s.broadcast(encode(protocol.Elimination{
			Type:   protocol.TypeElimination,
			Player: res.Target,
			Weapon: string(res.Weapon),
		}), true, true)
	}
}

func (s *Session) handleStart(cmd startCmd) {
	if s.state != StateLobby {
		return
	}
	s.state = StateGame
	s.timeLeft = s.params.GameSeconds

	s.log.Info("game started",
		zap.String("by", cmd.From),
		zap.Int("timeLeft", s.timeLeft),
		zap.Int("players", len(s.players)))

	s.broadcast(encode(protocol.StartGame{
		Type:       protocol.TypeStartGame,
		TimeLeft:   s.timeLeft,
		PlayerList: s.projection(),
	}), true, true)
}

func (s *Session) handleFrame(cmd frameCmd) {
	if _, ok := s.players[cmd.Username]; !ok {
		return
	}
	s.latestFrames[cmd.Username] = cmd.Frame

	names := make([]string, 0, len(s.latestFrames))
	for name := range s.latestFrames {
		names = append(names, name)
	}
	sort.Strings(names)

	batch := protocol.CameraFramesBatch{Type: protocol.TypeCameraFrames}
	for _, name := range names {
		batch.Frames = append(batch.Frames, protocol.FrameEntry{Username: name, Frame: s.latestFrames[name]})
	}
	s.broadcast(encode(batch), false, true)
}

func (s *Session) handleTick() bool {
	if len(s.players) == 0 {
		if len(s.spectators) == 0 {
			s.shutdown(true)
			return true
		}
		s.persistTime--
		if s.persistTime <= 0 {
			s.log.Info("session expired with no players")
			s.broadcast(encode(protocol.SessionClose{Type: protocol.TypeSessionClose}), false, true)
			s.shutdown(true)
			return true
		}
		return false
	}
	s.persistTime = s.params.PersistSeconds

	if s.state != StateGame {
		return false
	}

	s.timeLeft--
	s.broadcast(encode(protocol.GameUpdate{
		Type:     protocol.TypeGameUpdate,
		TimeLeft: s.timeLeft,
		Players:  s.projection(),
	}), true, true)

	if s.timeLeft <= 0 {
		s.state = StateFinished
		s.log.Info("game finished")
		return false
	}

	for _, p := range s.players {
		game.TickPowerUps(p)
	}
	s.grantPowerUps()
	return false
}

// grantPowerUps rolls once per living player, in join order so the RNG
// stream is reproducible under a seeded source.
func (s *Session) grantPowerUps() {
	for _, p := range s.byJoinSeq() {
		if p.Eliminated() {
			continue
		}
		kind, ok := game.RollGrant(s.rng, s.params.PowerUpChance)
		if !ok {
			continue
		}
		p.PowerUps[kind] = s.params.PowerUpTicks

		s.log.Debug("powerup granted",
			zap.String("username", p.Username),
			zap.String("powerup", string(kind)))

		if out, ok := s.conns[p.Username]; ok {
			trySend(out, encode(protocol.PowerUpNotice{
				Type:     protocol.TypePowerUp,
				PowerUp:  string(kind),
				Duration: s.params.PowerUpTicks,
			}))
		}
	}
}

func (s *Session) byJoinSeq() []*game.Player {
	out := make([]*game.Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinSeq < out[j].JoinSeq })
	return out
}

func (s *Session) projection() []protocol.PlayerInfo {
	list := make([]protocol.PlayerInfo, 0, len(s.players))
	for _, p := range s.byJoinSeq() {
		list = append(list, protocol.PlayerInfo{
			Username:  p.Username,
			Color:     p.Color,
			HitsGiven: p.HitsGiven,
			HitsTaken: p.HitsTaken,
			Points:    p.Points,
		})
	}
	return list
}

func (s *Session) playerListUpdate() protocol.PlayerListUpdate {
	return protocol.PlayerListUpdate{
		Type:       protocol.TypePlayerListUpdate,
		Admin:      s.admin,
		PlayerList: s.projection(),
	}
}

// broadcast fans data out to the selected rosters. Sends never block the
// loop: a connection whose outbox is full misses this message and catches
// up on the next one.
func (s *Session) broadcast(data []byte, toPlayers, toSpectators bool) {
	if toPlayers {
		for _, out := range s.conns {
			trySend(out, data)
		}
	}
	if toSpectators {
		for _, out := range s.spectators {
			trySend(out, data)
		}
	}
}

func trySend(out chan []byte, data []byte) {
	select {
	case out <- data:
	default:
	}
}

func (s *Session) shutdown(notify bool) {
	if s.closed {
		return
	}
	s.closed = true
	for name, out := range s.conns {
		close(out)
		delete(s.conns, name)
	}
	for id, out := range s.spectators {
		close(out)
		delete(s.spectators, id)
	}
	clear(s.players)
	clear(s.latestFrames)
	s.cancel()
	s.log.Info("session closed")
	if notify && s.onClose != nil {
		s.onClose(s.code)
	}
}

func encode(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}
