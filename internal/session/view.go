package session

import (
	"maps"

	"github.com/colortag/server/internal/game"
)

// View is a copy of the session's state, used by tests to observe the
// actor without data races.
type View struct {
	Code          string
	State         State
	Admin         string
	TimeLeft      int
	PersistTime   int
	NumSpectators int
	Players       map[string]game.Player
}

// Snapshot returns the current View, or false if the session has closed.
func (s *Session) Snapshot() (View, bool) {
	reply := make(chan View, 1)
	if !s.send(getView{Reply: reply}) {
		return View{}, false
	}
	select {
	case v := <-reply:
		return v, true
	case <-s.ctx.Done():
		return View{}, false
	}
}

func (s *Session) view() View {
	v := View{
		Code:          s.code,
		State:         s.state,
		Admin:         s.admin,
		TimeLeft:      s.timeLeft,
		PersistTime:   s.persistTime,
		NumSpectators: len(s.spectators),
		Players:       make(map[string]game.Player, len(s.players)),
	}
	for name, p := range s.players {
		cp := *p
		cp.PowerUps = maps.Clone(p.PowerUps)
		v.Players[name] = cp
	}
	return v
}
