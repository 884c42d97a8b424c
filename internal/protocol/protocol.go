// Package protocol defines the JSON frames exchanged with players,
// spectators, and the color probe channel.
package protocol

// Message types. hit and startGame flow client->server as commands and
// server->client as events; the rest are one-directional.
const (
	TypeHit         = "hit"
	TypeStartGame   = "startGame"
	TypeCameraFrame = "cameraFrame"

	TypePlayerJoin       = "playerJoin"
	TypePlayerQuit       = "playerQuit"
	TypePlayerListUpdate = "playerListUpdate"
	TypeElimination      = "elimination"
	TypeGameUpdate       = "gameUpdate"
	TypeCameraFrames     = "cameraFramesBatch"
	TypeSessionClose     = "sessionClose"
	TypeColorResult      = "colorResult"
	TypePowerUp          = "powerup"
)

// ClientMessage is the envelope for everything a player connection sends.
// Fields beyond Type are populated depending on the type.
type ClientMessage struct {
	Type   string `json:"type"`
	Color  string `json:"color,omitempty"`
	Weapon string `json:"weapon,omitempty"`
	Frame  string `json:"frame,omitempty"`
}

// ColorQuery is the single message shape on the color probe channel.
type ColorQuery struct {
	Color string `json:"color"`
}

// PlayerInfo is the roster projection clients render leaderboards from.
type PlayerInfo struct {
	Username  string `json:"username"`
	Color     string `json:"color"`
	HitsGiven int    `json:"hitsGiven"`
	HitsTaken int    `json:"hitsTaken"`
	Points    int    `json:"points"`
}

type PlayerJoin struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type PlayerQuit struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

type PlayerListUpdate struct {
	Type       string       `json:"type"`
	Admin      string       `json:"admin"`
	PlayerList []PlayerInfo `json:"playerList"`
}

type StartGame struct {
	Type       string       `json:"type"`
	TimeLeft   int          `json:"timeLeft"`
	PlayerList []PlayerInfo `json:"playerList"`
}

type Hit struct {
	Type   string `json:"type"`
	Player string `json:"player"`
	Target string `json:"target"`
	Weapon string `json:"weapon"`
}

type Elimination struct {
	Type   string `json:"type"`
	Player string `json:"player"`
	Weapon string `json:"weapon"`
}

type GameUpdate struct {
	Type     string       `json:"type"`
	TimeLeft int          `json:"timeLeft"`
	Players  []PlayerInfo `json:"players"`
}

type FrameEntry struct {
	Username string `json:"username"`
	Frame    string `json:"frame"`
}

type CameraFramesBatch struct {
	Type   string       `json:"type"`
	Frames []FrameEntry `json:"frames"`
}

type SessionClose struct {
	Type string `json:"type"`
}

type ColorResult struct {
	Type      string `json:"type"`
	Available bool   `json:"available"`
}

type PowerUpNotice struct {
	Type     string `json:"type"`
	PowerUp  string `json:"powerup"`
	Duration int    `json:"duration"`
}
