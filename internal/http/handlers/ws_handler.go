package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-wa-ocr-backend/internal/http/middleware"
	"github.com/tbourn/go-wa-ocr-backend/internal/notify"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxFrame   = 4 << 10
)

// Client frame actions.
const (
	ActionJoin  = "join"
	ActionLeave = "leave"
)

// ClientFrame is what a viewer sends over the socket.
type ClientFrame struct {
	Action string `json:"action"  example:"join"`
	ChatID string `json:"chat_id" example:"15551234567@s.whatsapp.net"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// CORS middleware already governs browser origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Realtime godoc
// @ID          realtime
// @Summary     Realtime event stream
// @Description Upgrades to a websocket. Send {"action":"join","chat_id":"..."} to receive that chat's
// @Description events and {"action":"leave",...} to stop. Server frames are notify events.
// @Tags        Realtime
// @Success     101  {string} string "Switching Protocols"
// @Router      /ws [get]
func (h *Handlers) Realtime(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		middleware.LoggerFrom(c).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := h.rt.Subscribe()
	lg := middleware.LoggerFrom(c).With().Str("subscriber", sub.ID).Logger()
	lg.Debug().Msg("websocket connected")

	go h.wsWrite(conn, sub, lg)
	h.wsRead(conn, sub, lg)
}

// wsRead applies join/leave frames until the connection fails, then drops
// the subscriber, which also ends wsWrite.
func (h *Handlers) wsRead(conn *websocket.Conn, sub *notify.Subscriber, lg zerolog.Logger) {
	defer func() {
		h.rt.Drop(sub)
		_ = conn.Close()
		lg.Debug().Msg("websocket closed")
	}()

	conn.SetReadLimit(wsMaxFrame)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var f ClientFrame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				lg.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
		if f.ChatID == "" {
			continue
		}
		switch f.Action {
		case ActionJoin:
			h.rt.Join(sub, f.ChatID)
		case ActionLeave:
			h.rt.Leave(sub, f.ChatID)
		default:
			lg.Debug().Str("action", f.Action).Msg("unknown websocket action")
		}
	}
}

// wsWrite forwards hub events and keeps the connection alive with pings.
func (h *Handlers) wsWrite(conn *websocket.Conn, sub *notify.Subscriber, lg zerolog.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case ev := <-sub.C():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				lg.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			return
		}
	}
}
