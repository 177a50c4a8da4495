package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"task-notification-service/internal/logging"
	"task-notification-service/internal/models"
	"task-notification-service/internal/notification"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 32
)

var (
	errChannelClosed = errors.New("websocket closed")
	errSlowConsumer  = errors.New("websocket send buffer full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsChannel is one websocket connection registered as a live session.
// Sends are queued to a single writer goroutine and never block the dispatcher.
// An event accepted by Send is written before the close frame.
type wsChannel struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	mu     sync.Mutex
	closed bool
	code   int
	reason string
}

func newWSChannel(conn *websocket.Conn) *wsChannel {
	return &wsChannel{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
		code: websocket.CloseNormalClosure,
	}
}

func (c *wsChannel) Send(ev models.NotificationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errChannelClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.closeLocked(websocket.CloseTryAgainLater, "slow consumer")
		return errSlowConsumer
	}
}

func (c *wsChannel) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(code, reason)
}

func (c *wsChannel) closeLocked(code int, reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.code, c.reason = code, reason
	close(c.done)
}

func (c *wsChannel) write(data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsChannel) writePump(logger *logging.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			// Nothing is added to send once done is closed.
			for len(c.send) > 0 {
				if err := c.write(<-c.send); err != nil {
					return
				}
			}
			msg := websocket.FormatCloseMessage(c.code, c.reason)
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		case data := <-c.send:
			if err := c.write(data); err != nil {
				logger.Errorf("Failed to write websocket message: %v", err)
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

// readPump only watches for the client going away.
func (c *wsChannel) readPump() {
	defer c.close(websocket.CloseNormalClosure, "")
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ServeWS upgrades the request and registers the connection as a live
// session for user_id until the client disconnects.
func (h *Handler) ServeWS(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("Websocket upgrade for user %s failed: %v", userID, err)
		return
	}

	ch := newWSChannel(conn)
	go ch.writePump(h.logger)

	if err := h.notifier.Connect(userID, ch); err != nil {
		h.logger.Warnf("Rejecting websocket for user %s: %v", userID, err)
		reason := "connect failed"
		if errors.Is(err, notification.ErrTooManyChannels) {
			reason = "too many connections"
		}
		ch.close(websocket.ClosePolicyViolation, reason)
		return
	}
	h.logger.Infof("User %s connected", userID)

	ch.readPump()
	h.notifier.Disconnect(userID, ch)
	h.logger.Infof("User %s disconnected", userID)
}
