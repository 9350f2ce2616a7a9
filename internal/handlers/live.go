package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"vainalista-api/internal/logging"
	"vainalista-api/internal/middleware"
	"vainalista-api/internal/models"
	"vainalista-api/internal/session"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 1024

	sendBuffer = 32
)

// Live message types
const (
	LiveLists        = "lists"
	LiveCurrent      = "current"
	LiveInvitations  = "invitations"
	LiveNotification = "notification"
	LiveOnline       = "online"
	LivePong         = "pong"
	LiveError        = "error"
)

// Client message types
const (
	LiveSelect = "select"
	LivePing   = "ping"
)

// LiveMessage is pushed to websocket clients
type LiveMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
	Time int64       `json:"time"`
}

// LiveRequest is sent by websocket clients
type LiveRequest struct {
	Type    string `json:"type"`
	ListaID string `json:"listaId,omitempty"`
}

// LiveHandler streams the caller's projections over a websocket
type LiveHandler struct {
	sessions *session.Manager
	upgrader websocket.Upgrader
	log      *logrus.Entry
}

// NewLiveHandler creates a live handler accepting upgrades from origins
// (every origin when origins is empty or holds "*")
func NewLiveHandler(sessions *session.Manager, origins []string) *LiveHandler {
	return &LiveHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(origins) == 0 || middleware.OriginAllowed(origin, origins)
			},
		},
		log: logging.For("live"),
	}
}

// ServeLive handles GET /live
func (h *LiveHandler) ServeLive(c *gin.Context) {
	s, ok := acquire(c, h.sessions)
	if !ok {
		return
	}
	identity, _ := middleware.GetIdentity(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).WithField("uid", identity.UID).Warn("Websocket upgrade failed")
		return
	}

	client := &liveClient{
		conn:    conn,
		session: s,
		send:    make(chan LiveMessage, sendBuffer),
		done:    make(chan struct{}),
		touch:   func() { h.sessions.Touch(identity.UID) },
		log:     h.log.WithField("uid", identity.UID),
	}
	client.log.Info("Live client connected")

	lists, stopLists := s.Lists.UserLists().Subscribe()
	current, stopCurrent := s.Lists.CurrentList().Subscribe()
	online, stopOnline := s.Lists.Online().Subscribe()
	invitations, stopInvitations := s.Sharing.Invitations().Subscribe()
	notifications, stopNotifications := s.Feed.Subscribe()

	var wg sync.WaitGroup
	wg.Add(6)
	go func() { defer wg.Done(); forward(client, LiveLists, lists) }()
	go func() { defer wg.Done(); forward(client, LiveCurrent, current) }()
	go func() { defer wg.Done(); forward(client, LiveOnline, online) }()
	go func() { defer wg.Done(); forward(client, LiveInvitations, invitations) }()
	go func() { defer wg.Done(); forward(client, LiveNotification, notifications) }()
	go func() { defer wg.Done(); client.writePump() }()

	client.readPump(c.Request.Context())

	client.close()
	stopLists()
	stopCurrent()
	stopOnline()
	stopInvitations()
	stopNotifications()
	wg.Wait()
	_ = conn.Close()
	client.log.Info("Live client disconnected")
}

type liveClient struct {
	conn    *websocket.Conn
	session *session.Session
	send    chan LiveMessage
	done    chan struct{}
	once    sync.Once
	touch   func()
	log     *logrus.Entry
}

func (c *liveClient) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *liveClient) push(kind string, data interface{}) {
	select {
	case c.send <- LiveMessage{Type: kind, Data: data}:
	case <-c.done:
	}
}

// forward relays a projection until it closes or the client goes away
func forward[T any](c *liveClient, kind string, in <-chan T) {
	for {
		select {
		case v, ok := <-in:
			if !ok {
				// the session was released under us
				c.close()
				return
			}
			c.push(kind, v)
		case <-c.done:
			return
		}
	}
}

func (c *liveClient) readPump(ctx context.Context) {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req LiveRequest
		if err := c.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Warn("Websocket read failed")
			}
			return
		}
		c.touch()
		c.handle(ctx, req)
	}
}

func (c *liveClient) handle(ctx context.Context, req LiveRequest) {
	switch req.Type {
	case LiveSelect:
		if req.ListaID == "" {
			c.push(LiveError, models.ErrorResponse{Code: "INVALID_INPUT", Message: "listaId is required"})
			return
		}
		if err := c.session.Lists.SelectList(ctx, req.ListaID); err != nil {
			_, code, message := statusFor(err)
			c.push(LiveError, models.ErrorResponse{Code: code, Message: message})
		}
	case LivePing:
		c.push(LivePong, nil)
	default:
		c.log.WithField("type", req.Type).Debug("Unknown live message type")
		c.push(LiveError, models.ErrorResponse{Code: "UNKNOWN_TYPE", Message: "Unknown message type"})
	}
}

func (c *liveClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		// unblocks readPump
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			msg.Time = time.Now().Unix()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.WithError(err).Debug("Websocket write failed")
				c.close()
				return
			}
		case <-ticker.C:
			c.touch()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}
