// Package monitor exposes a running session over HTTP: status and progress
// reads, pause/resume/stop controls, and a websocket feed that pushes every
// iteration report to connected clients.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Kokkini/MimicRL/session"
)

// Server wraps one session. Lifecycle follows the context handed to Start: a
// cancel shuts the listener down and drops every websocket client.
type Server struct {
	sess   *session.Session
	server *http.Server
	log    zerolog.Logger

	upgrader websocket.Upgrader
	connMu   sync.Mutex
	conns    map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New builds the server and subscribes it to the session's progress feed.
func New(addr string, sess *session.Session, log zerolog.Logger) *Server {
	m := &Server{
		sess: sess,
		log:  log.With().Str("component", "monitor").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*client]struct{}),
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET("/status", m.handleStatus)
	r.GET("/progress", m.handleProgress)
	r.POST("/pause", m.handlePause)
	r.POST("/resume", m.handleResume)
	r.POST("/stop", m.handleStop)
	r.GET("/ws", m.handleWS)
	m.server = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	sess.OnProgress(m.broadcast)
	return m
}

// Start launches the listener and a watcher that shuts it down when ctx ends.
func (m *Server) Start(ctx context.Context) {
	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error().Err(err).Msg("monitor server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.server.Shutdown(shutCtx)
		m.connMu.Lock()
		for c := range m.conns {
			delete(m.conns, c)
			close(c.send)
		}
		m.connMu.Unlock()
	}()
	m.log.Info().Str("addr", m.server.Addr).Msg("monitor listening")
}

func (m *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, m.sess.Status())
}

func (m *Server) handleProgress(c *gin.Context) {
	c.JSON(http.StatusOK, m.sess.Progress())
}

func (m *Server) handlePause(c *gin.Context) {
	if err := m.sess.Pause(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": m.sess.State()})
}

func (m *Server) handleResume(c *gin.Context) {
	if err := m.sess.Resume(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": m.sess.State()})
}

// handleStop blocks until the session has drained, so the response carries
// the terminal state.
func (m *Server) handleStop(c *gin.Context) {
	if err := m.sess.Stop(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": m.sess.State()})
}

func (m *Server) handleWS(c *gin.Context) {
	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		m.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	cl := &client{conn: conn, send: make(chan []byte, 16)}
	m.connMu.Lock()
	m.conns[cl] = struct{}{}
	m.connMu.Unlock()
	go m.writer(cl)
	go m.reader(cl)
}

func (m *Server) remove(cl *client) {
	m.connMu.Lock()
	if _, ok := m.conns[cl]; ok {
		delete(m.conns, cl)
		close(cl.send)
	}
	m.connMu.Unlock()
}

// writer drains the client's queue and keeps the connection alive with pings.
func (m *Server) writer(cl *client) {
	defer cl.conn.Close()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-cl.send:
			if !ok {
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				m.remove(cl)
				return
			}
		case <-ticker.C:
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				m.remove(cl)
				return
			}
		}
	}
}

// reader discards client messages; its job is noticing the close.
func (m *Server) reader(cl *client) {
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			m.remove(cl)
			return
		}
	}
}

// broadcast pushes one progress record to every client. A client whose queue
// is full misses the record rather than stalling the run loop.
func (m *Server) broadcast(p session.Progress) {
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	m.connMu.Lock()
	defer m.connMu.Unlock()
	for cl := range m.conns {
		select {
		case cl.send <- data:
		default:
		}
	}
}
