// Package ws accepts the three websocket roles (player, spectator, color
// probe), attaches them to their session, and pumps frames both ways.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/colortag/server/internal/game"
	"github.com/colortag/server/internal/protocol"
	"github.com/colortag/server/internal/registry"
)

const (
	writeTimeout = 3 * time.Second
	outboxSize   = 32

	// Camera frames arrive as base64 data URLs well past the library's
	// default 32 KiB read limit.
	maxFrameBytes = 4 << 20
)

func acceptOptions(origins []string) *websocket.AcceptOptions {
	return &websocket.AcceptOptions{OriginPatterns: origins}
}

// PlayerHandler serves GET /session/{code}. Connecting to an unknown code
// creates the session, and the first player in becomes admin.
func PlayerHandler(reg *registry.Registry, log *zap.Logger, origins []string) http.HandlerFunc {
	opts := acceptOptions(origins)
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")
		username := strings.TrimSpace(r.URL.Query().Get("username"))
		color := strings.TrimSpace(r.URL.Query().Get("color"))

		conn, err := websocket.Accept(w, r, opts)
		if err != nil {
			return
		}
		conn.SetReadLimit(maxFrameBytes)

		if username == "" {
			conn.Close(websocket.StatusPolicyViolation, "username is required")
			return
		}
		if color == "" {
			conn.Close(websocket.StatusPolicyViolation, "color is required")
			return
		}

		sess := reg.Ensure(code)
		if sess == nil {
			conn.Close(websocket.StatusTryAgainLater, "server shutting down")
			return
		}

		outbox := make(chan []byte, outboxSize)
		name, err := sess.Join(username, color, outbox)
		if err != nil {
			conn.Close(websocket.StatusPolicyViolation, err.Error())
			return
		}
		defer sess.Leave(name)

		plog := log.With(zap.String("session", code), zap.String("username", name))
		go writePump(r.Context(), conn, outbox)

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				// Normal churn: tab closed, phone locked, network drop.
				return
			}

			var m protocol.ClientMessage
			if err := json.Unmarshal(data, &m); err != nil {
				plog.Debug("dropping malformed message", zap.Error(err))
				continue
			}

			switch m.Type {
			case protocol.TypeHit:
				sess.SubmitHit(name, m.Color, game.Weapon(m.Weapon))
			case protocol.TypeStartGame:
				sess.StartGame(name)
			case protocol.TypeCameraFrame:
				sess.SubmitFrame(name, m.Frame)
			default:
				plog.Debug("dropping unknown message type", zap.String("type", m.Type))
			}
		}
	}
}

// SpectatorHandler serves GET /session/{code}/spectator. Spectators can
// only watch sessions that already exist.
func SpectatorHandler(reg *registry.Registry, log *zap.Logger, origins []string) http.HandlerFunc {
	opts := acceptOptions(origins)
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")

		conn, err := websocket.Accept(w, r, opts)
		if err != nil {
			return
		}

		sess := reg.Get(code)
		if sess == nil {
			conn.Close(websocket.StatusPolicyViolation, "session does not exist")
			return
		}

		id := uuid.NewString()
		outbox := make(chan []byte, outboxSize)
		if err := sess.JoinSpectator(id, outbox); err != nil {
			conn.Close(websocket.StatusPolicyViolation, "session does not exist")
			return
		}
		defer sess.LeaveSpectator(id)

		go writePump(r.Context(), conn, outbox)

		// Spectators have nothing to say; drain until the socket drops.
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}
}

// ColorProbeHandler serves GET /session/{code}/check_color: one availability
// reply per inbound color, no session mutation. Colors in a session that
// does not exist yet are all available.
func ColorProbeHandler(reg *registry.Registry, log *zap.Logger, origins []string) http.HandlerFunc {
	opts := acceptOptions(origins)
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")

		conn, err := websocket.Accept(w, r, opts)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}

			var q protocol.ColorQuery
			if err := json.Unmarshal(data, &q); err != nil {
				log.Debug("dropping malformed color query",
					zap.String("session", code), zap.Error(err))
				continue
			}

			available := true
			if sess := reg.Get(code); sess != nil {
				available = sess.CheckColor(q.Color)
			}

			resp, _ := json.Marshal(protocol.ColorResult{
				Type:      protocol.TypeColorResult,
				Available: available,
			})
			wctx, cancel := context.WithTimeout(r.Context(), writeTimeout)
			err = conn.Write(wctx, websocket.MessageText, resp)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// writePump drains outbox onto the socket. The session closes outbox when
// the connection is removed, which is what ends this goroutine on
// server-initiated teardown.
func writePump(ctx context.Context, conn *websocket.Conn, outbox <-chan []byte) {
	for data := range outbox {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := conn.Write(wctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			for range outbox {
			}
			return
		}
	}
	conn.Close(websocket.StatusNormalClosure, "session closed")
}
