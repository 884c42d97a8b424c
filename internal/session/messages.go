package session

import "github.com/colortag/server/internal/game"

type msg interface{ isSessionMsg() }

type joinReq struct {
	Username string
	Color    string
	Outbox   chan []byte
	Reply    chan joinResult
}

type joinResult struct {
	Username string
	Err      error
}

type leaveReq struct {
	Username string
	Done     chan struct{}
}

type spectatorJoinReq struct {
	ID     string
	Outbox chan []byte
}

type spectatorLeaveReq struct {
	ID   string
	Done chan struct{}
}

// hitCmd, startCmd and frameCmd carry the player-originated protocol
// messages after the ws layer has decoded them.
type hitCmd struct {
	Attacker string
	Color    string
	Weapon   game.Weapon
}

type startCmd struct {
	From string
}

type frameCmd struct {
	Username string
	Frame    string
}

type colorCheckReq struct {
	Color string
	Reply chan bool
}

type tick struct{}

type getView struct {
	Reply chan View
}

func (joinReq) isSessionMsg()           {}
func (leaveReq) isSessionMsg()          {}
func (spectatorJoinReq) isSessionMsg()  {}
func (spectatorLeaveReq) isSessionMsg() {}
func (hitCmd) isSessionMsg()            {}
func (startCmd) isSessionMsg()          {}
func (frameCmd) isSessionMsg()          {}
func (colorCheckReq) isSessionMsg()     {}
func (tick) isSessionMsg()              {}
func (getView) isSessionMsg()           {}
