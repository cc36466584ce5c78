// Package backendtest runs an in-process agency backend for tests: the REST
// endpoints on a gin router and the push channel on a websocket upgrader.
package backendtest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"agency-dashboard/internal/types"
)

// Request records one REST call the server saw.
type Request struct {
	Method    string
	Path      string
	RequestID string
	Body      string
}

type Server struct {
	*httptest.Server

	mu          sync.Mutex
	agents      []types.Agent
	command     types.CommandResponse
	commandFn   func(string) types.CommandResponse
	results     map[string][]types.Result
	uploads     map[string]string
	failures    map[string]int
	delay       time.Duration
	requests    []Request
	conns       map[*websocket.Conn]*sync.Mutex
	connects    int
	received    chan string
	connectedCh chan struct{}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func New(t testing.TB) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := &Server{
		results:     make(map[string][]types.Result),
		uploads:     make(map[string]string),
		failures:    make(map[string]int),
		conns:       make(map[*websocket.Conn]*sync.Mutex),
		received:    make(chan string, 64),
		connectedCh: make(chan struct{}, 16),
	}
	router := gin.New()
	router.Use(s.record)
	api := router.Group("/api")
	api.GET("/agents", s.handleAgents)
	api.POST("/command", s.handleCommand)
	api.GET("/results/:taskId", s.handleResults)
	api.POST("/upload", s.handleUpload)
	router.GET("/ws", s.handleWS)
	s.Server = httptest.NewServer(router)
	t.Cleanup(s.Close)
	return s
}

// WSURL is the push-channel endpoint.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

func (s *Server) Close() {
	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.Server.Close()
}

func (s *Server) SetAgents(agents ...types.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = append([]types.Agent(nil), agents...)
}

func (s *Server) SetCommandResponse(resp types.CommandResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.command = resp
	s.commandFn = nil
}

func (s *Server) HandleCommands(fn func(command string) types.CommandResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commandFn = fn
}

func (s *Server) SetResults(taskID string, results ...types.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[taskID] = results
}

// FailPath makes every request to path answer with status.
func (s *Server) FailPath(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = status
}

// SetDelay holds every REST response for d.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

func (s *Server) Uploads() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.uploads))
	for k, v := range s.uploads {
		out[k] = v
	}
	return out
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Received yields every text frame clients sent, decoded from the envelope.
func (s *Server) Received() <-chan string {
	return s.received
}

// WaitConnected blocks until a push client has connected or the timeout hits.
func (s *Server) WaitConnected(timeout time.Duration) bool {
	select {
	case <-s.connectedCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Connects counts every push connection ever accepted.
func (s *Server) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Push sends a named event to every connected client as an envelope whose
// data is the {type, data} payload.
func (s *Server) Push(event string, data map[string]any) error {
	env, err := types.NewEnvelope(event, map[string]any{"type": event, "data": data})
	if err != nil {
		return err
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.PushRaw(frame)
}

// PushRaw writes frame unchanged to every connected client.
func (s *Server) PushRaw(frame []byte) error {
	s.mu.Lock()
	targets := make(map[*websocket.Conn]*sync.Mutex, len(s.conns))
	for conn, mu := range s.conns {
		targets[conn] = mu
	}
	s.mu.Unlock()
	for conn, mu := range targets {
		mu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, frame)
		mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// DropConnections closes every push connection from the server side.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}

func (s *Server) record(c *gin.Context) {
	var body string
	if c.Request.Body != nil && !strings.HasPrefix(c.GetHeader("Content-Type"), "multipart/") {
		data, _ := io.ReadAll(c.Request.Body)
		body = string(data)
		c.Request.Body = io.NopCloser(strings.NewReader(body))
	}
	s.mu.Lock()
	s.requests = append(s.requests, Request{
		Method:    c.Request.Method,
		Path:      c.Request.URL.Path,
		RequestID: c.GetHeader("X-Request-ID"),
		Body:      body,
	})
	status, fail := s.failures[c.Request.URL.Path]
	delay := s.delay
	s.mu.Unlock()
	if delay > 0 && c.Request.URL.Path != "/ws" {
		select {
		case <-time.After(delay):
		case <-c.Request.Context().Done():
			c.Abort()
			return
		}
	}
	if fail {
		c.AbortWithStatusJSON(status, gin.H{"detail": http.StatusText(status)})
		return
	}
	c.Next()
}

func (s *Server) handleAgents(c *gin.Context) {
	s.mu.Lock()
	agents := append([]types.Agent{}, s.agents...)
	s.mu.Unlock()
	c.JSON(http.StatusOK, agents)
}

func (s *Server) handleCommand(c *gin.Context) {
	var req types.CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": err.Error()})
		return
	}
	s.mu.Lock()
	resp, fn := s.command, s.commandFn
	s.mu.Unlock()
	if fn != nil {
		resp = fn(req.Command)
	}
	if resp.Results == nil {
		resp.Results = []types.Result{}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleResults(c *gin.Context) {
	s.mu.Lock()
	results, ok := s.results[c.Param("taskId")]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "task not found"})
		return
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) handleUpload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	url := s.URL + "/files/" + header.Filename
	s.mu.Lock()
	s.uploads[header.Filename] = string(data)
	s.mu.Unlock()
	c.JSON(http.StatusOK, types.UploadResponse{URL: url})
}

func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns[conn] = &sync.Mutex{}
	s.connects++
	s.mu.Unlock()
	select {
	case s.connectedCh <- struct{}{}:
	default:
	}
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env types.Envelope
		text := string(data)
		if json.Unmarshal(data, &env) == nil && env.Event != "" {
			var payload string
			if json.Unmarshal(env.Data, &payload) == nil {
				text = payload
			}
		}
		select {
		case s.received <- text:
		default:
		}
	}
}
