package wsocket

import (
	"encoding/json"
	"net/http"
	"time"

	"chatbase_go_backend/internal/models"
	"chatbase_go_backend/internal/services"
	"chatbase_go_backend/internal/utils/broker"
	"chatbase_go_backend/internal/utils/credits"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin is enforced by the CORS layer in front
	},
}

// Handler pushes balance snapshots to connected clients so the UI never has
// to poll for credit changes.
type Handler struct {
	broker *broker.Broker
	ledger services.CreditLedger
	log    zerolog.Logger
}

func NewHandler(b *broker.Broker, ledger services.CreditLedger, log zerolog.Logger) *Handler {
	return &Handler{broker: b, ledger: ledger, log: log}
}

type creditMessage struct {
	Type             string `json:"type"`
	AvailableCredits int64  `json:"availableCredits"`
	UsedCredits      int64  `json:"usedCredits"`
	LowBalance       bool   `json:"lowBalance"`
}

// ServeCredits upgrades the request and streams balance updates for the
// authenticated user until the client disconnects.
func (h *Handler) ServeCredits(c *gin.Context, user *models.User) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	topic := broker.CreditTopic(user.ID.String())
	updates := h.broker.Subscribe(topic)
	defer h.broker.Unsubscribe(topic, updates)

	// Initial snapshot so the client renders without waiting for a mutation.
	if available, used, balErr := h.ledger.Balance(c.Request.Context(), user.ID); balErr == nil {
		if err := h.write(conn, snapshotMessage(available, used)); err != nil {
			return
		}
	}

	// Reader goroutine only services control frames; clients never send data.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case msg, ok := <-updates:
			if !ok {
				return
			}
			update, isUpdate := msg.(services.BalanceUpdate)
			if !isUpdate {
				continue
			}
			if err := h.write(conn, snapshotMessage(update.AvailableCredits, update.UsedCredits)); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, msg creditMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func snapshotMessage(available, used int64) creditMessage {
	msgType := "credit_update"
	if credits.ShouldWarnLow(available) {
		msgType = "credit_warning"
	}
	return creditMessage{
		Type:             msgType,
		AvailableCredits: available,
		UsedCredits:      used,
		LowBalance:       credits.ShouldWarnLow(available),
	}
}
