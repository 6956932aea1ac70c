package server

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-relay/internal/types"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	sendBufferSize = 256
)

// Client is one live websocket connection of an authenticated user.
type Client struct {
	id          string
	conn        *websocket.Conn
	chatServer  *ChatServer
	log         *logrus.Entry
	user        types.User
	send        chan *ServerMessage
	limiter     *rate.Limiter
	stop        chan struct{}
	stopOnce    sync.Once
	cleanupOnce sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, cs *ChatServer, l *logrus.Logger) (*Client, error) {
	id, err := shortid.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate connection id: %w", err)
	}

	return &Client{
		id:         id,
		conn:       conn,
		chatServer: cs,
		log:        l.WithFields(logrus.Fields{"conn_id": id, "user_id": user.Id}),
		user:       user,
		send:       make(chan *ServerMessage, sendBufferSize),
		limiter:    rate.NewLimiter(cs.rateLimit, cs.rateBurst),
		stop:       make(chan struct{}),
	}, nil
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Debug("write exiting")
	}()

	for {
		select {
		case msg := <-c.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.WithError(err).Error("failed to serialize message")
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}

			if msg.ForceLogout != nil {
				c.sendMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "logged out"))
				return
			}
		case <-c.stop:
			c.sendMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Debug("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.WithError(err).Warn("ws: read")
			}
			break
		}

		c.log.Tracef("received message: %s", raw)

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.WithError(err).Debug("error parsing message")
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		if !c.limiter.Allow() {
			c.log.Debug("rate limit exceeded")
			c.queueMessage(ErrTooManyRequests(msg.Id))
			continue
		}

		msg.client = c
		msg.UserId = c.user.Id
		msg.Timestamp = Now()

		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *ClientMessage) {
	engine := c.chatServer.engine

	if c.chatServer.isShuttingDown() {
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		return
	}

	switch {
	case msg.SendMessage != nil:
		engine.SendMessage(msg)
	case msg.MessageSeen != nil:
		engine.MarkSeen(msg)
	case msg.ReactMessage != nil:
		engine.ToggleReaction(msg)
	case msg.Typing != nil:
		engine.ForwardTyping(msg, false)
	case msg.StopTyping != nil:
		engine.ForwardTyping(msg, true)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

// queueMessage hands msg to the writer without blocking. It reports false if
// the connection is stopped or its buffer is full.
func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.send <- msg:
	default:
		c.log.Warn("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.WithError(err).Debug("write message")
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.cleanupOnce.Do(func() {
		c.stopClient()
		c.chatServer.UnregisterClient(c)
	})
}
