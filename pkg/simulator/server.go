// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package simulator is a stand-in for the backend: it serves snapshot
// endpoints and push channels for every tracked topic kind and can play
// scripted job progress. It backs cmd/statussim and the integration tests.
package simulator

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/livestatus/pkg/communicator/safejson"
	"github.com/united-manufacturing-hub/livestatus/pkg/communicator/snapshot"
	"github.com/united-manufacturing-hub/livestatus/pkg/logger"
	"github.com/united-manufacturing-hub/livestatus/pkg/models"
)

const (
	DefaultPushBufferSize = 100
	writeTimeout          = 5 * time.Second
)

// Server serves the simulated backend.
type Server struct {
	router   *gin.Engine
	upgrader websocket.Upgrader
	token    string

	mu        sync.RWMutex
	snapshots map[models.Topic]models.Fields
	clients   map[models.Topic]map[uuid.UUID]*client

	logger *zap.SugaredLogger
}

// client is one connected push channel.
type client struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
	// closeCode is sent when send is closed.
	closeCode int
	once      sync.Once
	done      chan struct{}
}

// New creates a simulator that accepts only token. An empty token accepts
// every request.
func New(token string, log *zap.SugaredLogger) *Server {
	gin.SetMode(gin.ReleaseMode)
	if log == nil {
		log = logger.For(logger.ComponentSimulator)
	}

	s := &Server{
		router:    gin.New(),
		token:     token,
		snapshots: make(map[models.Topic]models.Fields),
		clients:   make(map[models.Topic]map[uuid.UUID]*client),
		logger:    log,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	s.router.GET("/api/v1/:kind/:id", s.handleSnapshot)
	s.router.GET("/ws/:kind/:id", s.handleChannel)

	return s
}

// Handler returns the HTTP handler of the simulator.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Debugw("Request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

func parseTopic(c *gin.Context) (models.Topic, bool) {
	kind, err := models.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return models.Topic{}, false
	}

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid id %q", c.Param("id"))})
		return models.Topic{}, false
	}

	return models.NewTopic(kind, id), true
}

func (s *Server) authorized(token string) bool {
	return s.token == "" || token == s.token
}

func (s *Server) handleSnapshot(c *gin.Context) {
	token, _ := c.Cookie(snapshot.TokenCookie)
	if !s.authorized(token) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	topic, ok := parseTopic(c)
	if !ok {
		return
	}

	s.mu.RLock()
	payload, ok := s.snapshots[topic]
	var body []byte
	if ok {
		body = safejson.MustMarshal(payload)
	}
	s.mu.RUnlock()

	if !ok {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}

func (s *Server) handleChannel(c *gin.Context) {
	if !s.authorized(c.Query("token")) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	topic, ok := parseTopic(c)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warnf("Failed to upgrade channel of %s: %v", topic, err)
		return
	}

	cl := &client{
		id:        uuid.New(),
		conn:      conn,
		send:      make(chan []byte, DefaultPushBufferSize),
		closeCode: websocket.CloseNormalClosure,
		done:      make(chan struct{}),
	}

	s.mu.Lock()
	if s.clients[topic] == nil {
		s.clients[topic] = make(map[uuid.UUID]*client)
	}
	s.clients[topic][cl.id] = cl
	s.mu.Unlock()

	s.logger.Debugf("Channel %s opened (%s)", topic, cl.id)

	go s.writeLoop(cl)
	s.readLoop(topic, cl)
}

// readLoop consumes control frames until the client goes away.
func (s *Server) readLoop(topic models.Topic, cl *client) {
	defer func() {
		s.mu.Lock()
		if clients, ok := s.clients[topic]; ok {
			delete(clients, cl.id)
			if len(clients) == 0 {
				delete(s.clients, topic)
			}
		}
		s.mu.Unlock()

		cl.stop(websocket.CloseNormalClosure)
		<-cl.done
		s.logger.Debugf("Channel %s closed (%s)", topic, cl.id)
	}()

	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writeLoop(cl *client) {
	defer close(cl.done)
	defer cl.conn.Close()

	for frame := range cl.send {
		_ = cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := cl.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}

	_ = cl.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(cl.closeCode, ""), time.Now().Add(writeTimeout))
}

// stop closes the send queue. The first code wins.
func (cl *client) stop(code int) {
	cl.once.Do(func() {
		cl.closeCode = code
		close(cl.send)
	})
}

// SetSnapshot replaces the payload served for topic.
func (s *Server) SetSnapshot(topic models.Topic, payload models.Fields) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[topic] = payload.Copy()
}

// UpdateSnapshot changes the served payload of topic in place.
func (s *Server) UpdateSnapshot(topic models.Topic, update func(payload models.Fields)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, ok := s.snapshots[topic]
	if !ok {
		payload = models.Fields{}
		s.snapshots[topic] = payload
	}
	update(payload)
}

// Push sends ev to every open channel of topic and returns how many
// received it.
func (s *Server) Push(topic models.Topic, ev models.Event) int {
	frame := safejson.MustMarshal(ev)
	return s.PushRaw(topic, frame)
}

// PushRaw sends an unvalidated frame, e.g. to exercise decode errors.
func (s *Server) PushRaw(topic models.Topic, frame []byte) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sent := 0
	for _, cl := range s.clients[topic] {
		select {
		case cl.send <- frame:
			sent++
		default:
			s.logger.Warnf("Push queue of %s full, dropping frame", topic)
		}
	}

	return sent
}

// CloseChannels closes every channel of topic with code.
func (s *Server) CloseChannels(topic models.Topic, code int) {
	s.mu.Lock()
	clients := s.clients[topic]
	delete(s.clients, topic)
	s.mu.Unlock()

	for _, cl := range clients {
		cl.stop(code)
	}
}

// Connections returns the number of open channels of topic.
func (s *Server) Connections(topic models.Topic) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.clients[topic])
}
