// Package registry owns the process-wide table of live sessions and the
// single tick driver that advances all of them.
package registry

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/colortag/server/internal/session"
)

type regMsg interface{ isRegMsg() }

type ensure struct {
	Code  string
	Reply chan *session.Session
}

type get struct {
	Code  string
	Reply chan *session.Session
}

type remove struct {
	Code string
}

type shutdown struct{}

func (ensure) isRegMsg()   {}
func (get) isRegMsg()      {}
func (remove) isRegMsg()   {}
func (shutdown) isRegMsg() {}

type Registry struct {
	inbox     chan regMsg
	sessions  map[string]*session.Session
	params    session.Params
	tickEvery time.Duration
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// New starts the registry loop and its tick driver. tickEvery is the
// scheduler period, one second in production.
func New(parent context.Context, params session.Params, tickEvery time.Duration, log *zap.Logger) *Registry {
	ctx, cancel := context.WithCancel(parent)
	r := &Registry{
		inbox:     make(chan regMsg, 64),
		sessions:  make(map[string]*session.Session),
		params:    params,
		tickEvery: tickEvery,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
	go r.loop()
	return r
}

// Ensure returns the session for code, creating it if absent. This is the
// player-join path: a player connecting to an unknown code brings the
// session into existence.
func (r *Registry) Ensure(code string) *session.Session {
	reply := make(chan *session.Session, 1)
	select {
	case r.inbox <- ensure{Code: code, Reply: reply}:
	case <-r.ctx.Done():
		return nil
	}
	select {
	case s := <-reply:
		return s
	case <-r.ctx.Done():
		return nil
	}
}

// Get returns the session for code, or nil. Spectators and color probes
// use this path; they never create sessions.
func (r *Registry) Get(code string) *session.Session {
	reply := make(chan *session.Session, 1)
	select {
	case r.inbox <- get{Code: code, Reply: reply}:
	case <-r.ctx.Done():
		return nil
	}
	select {
	case s := <-reply:
		return s
	case <-r.ctx.Done():
		return nil
	}
}

// Shutdown stops the tick driver and every session.
func (r *Registry) Shutdown() {
	select {
	case r.inbox <- shutdown{}:
	case <-r.ctx.Done():
	}
}

func (r *Registry) loop() {
	ticker := time.NewTicker(r.tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			r.stopAll()
			return

		case <-ticker.C:
			for _, s := range r.sessions {
				s.TryTick()
			}

		case m := <-r.inbox:
			switch msg := m.(type) {
			case ensure:
				s := r.sessions[msg.Code]
				if s == nil {
					s = r.spawn(msg.Code)
					r.sessions[msg.Code] = s
				}
				msg.Reply <- s

			case get:
				msg.Reply <- r.sessions[msg.Code] // may be nil

			case remove:
				delete(r.sessions, msg.Code)

			case shutdown:
				r.stopAll()
				return
			}
		}
	}
}

func (r *Registry) spawn(code string) *session.Session {
	r.log.Info("creating session", zap.String("session", code))
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return session.New(r.ctx, code, r.params, rng, r.log, func(code string) {
		// Runs on the session goroutine as its last act; hand the removal
		// to the registry loop instead of touching the map here.
		select {
		case r.inbox <- remove{Code: code}:
		case <-r.ctx.Done():
		}
	})
}

func (r *Registry) stopAll() {
	for code, s := range r.sessions {
		s.Stop()
		delete(r.sessions, code)
	}
	r.cancel()
	r.log.Info("registry shut down")
}
