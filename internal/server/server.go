package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"

	"github.com/bitcrane-tools/hashboard-tester/internal/fixture"
	"github.com/bitcrane-tools/hashboard-tester/internal/sweep"
)

// Server bridges the sweep controller to browser clients: REST endpoints
// for control, a WebSocket stream for the ordered sweep events.
type Server struct {
	cfg   *Config
	ctrl  *sweep.Controller
	webFS fs.FS

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	handleMu sync.Mutex
	handle   *sweep.Handle
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	Event  *sweep.Event           `json:"event,omitempty"`
	Status *sweep.Status          `json:"status,omitempty"`
	Models []fixture.MinerProfile `json:"models,omitempty"`
	Config json.RawMessage        `json:"config,omitempty"`
	Stamp  int64                  `json:"stamp"` // Unix ms
}

// New creates a new Server.
func New(cfg *Config, ctrl *sweep.Controller, webFS fs.FS) *Server {
	return &Server{
		cfg:     cfg,
		ctrl:    ctrl,
		webFS:   webFS,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	// Serve embedded web files
	mux.Handle("/", http.FileServer(http.FS(s.webFS)))

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWS)

	// Control API
	mux.HandleFunc("/api/sweep/start", s.handleStart)
	mux.HandleFunc("/api/sweep/cancel", s.handleCancel)
	mux.HandleFunc("/api/fan", s.handleFan)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/ports", s.handlePorts)
	mux.HandleFunc("/api/models", s.handleModels)
	mux.HandleFunc("/api/config", s.handleConfig)

	srv := &http.Server{
		Addr:    s.cfg.listenAddr(),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.listenAddr())
	return srv.ListenAndServe()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", len(s.clients))

	// Send initial models + config + controller status
	status := s.ctrl.Status()
	cfgJSON, _ := s.cfg.ToJSON()
	initial := Frame{
		Status: &status,
		Models: fixture.Profiles(),
		Config: cfgJSON,
		Stamp:  time.Now().UnixMilli(),
	}
	if data, err := json.Marshal(initial); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (handle incoming messages / keep-alive)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("[ws] client disconnected (%d total)", len(s.clients))
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				break
			}
		}
	}()
}

// startRequest carries per-sweep overrides from the UI; empty fields fall
// back to the configured defaults.
type startRequest struct {
	Model         string `json:"model"`
	PortPath      string `json:"portPath"`
	BaudRate      int    `json:"baudRate"`
	ReadTimeoutMs int    `json:"readTimeoutMs"`
	PingCommand   string `json:"pingCommand"`
	ChipCount     int    `json:"chipCount"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	var in startRequest
	if r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &in); err != nil {
				http.Error(w, "bad request: "+err.Error(), 400)
				return
			}
		}
	}

	def := s.cfg.snapshotFixture()
	if in.Model == "" {
		in.Model = def.Model
	}
	if in.PortPath == "" {
		in.PortPath = def.PortPath
	}
	if in.BaudRate == 0 {
		in.BaudRate = def.BaudRate
	}
	if in.ReadTimeoutMs == 0 {
		in.ReadTimeoutMs = def.ReadTimeoutMs
	}
	if in.PingCommand == "" {
		in.PingCommand = def.PingCommand
	}
	if in.ChipCount == 0 {
		in.ChipCount = def.ChipCount
	}

	req := sweep.Request{
		Model: in.Model,
		Connection: fixture.ConnectionConfig{
			PortPath:    in.PortPath,
			BaudRate:    in.BaudRate,
			ReadTimeout: time.Duration(in.ReadTimeoutMs) * time.Millisecond,
		},
		PingCommand: in.PingCommand,
		ChipCount:   in.ChipCount,
	}

	handle, err := s.ctrl.Start(req)
	if err != nil {
		if errors.Is(err, sweep.ErrAlreadyRunning) {
			http.Error(w, err.Error(), http.StatusConflict)
		} else {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	s.handleMu.Lock()
	s.handle = handle
	s.handleMu.Unlock()

	go s.pumpEvents(handle)

	log.Printf("[server] sweep started: model=%q port=%s baud=%d", in.Model, in.PortPath, in.BaudRate)
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"started"}`))
}

// pumpEvents forwards one sweep's ordered event stream to all clients.
// A single pump per sweep preserves the ordering guarantee end to end.
func (s *Server) pumpEvents(handle *sweep.Handle) {
	for ev := range handle.Events {
		e := ev
		s.broadcast(Frame{Event: &e, Stamp: time.Now().UnixMilli()})
	}
	// Stream closed: push a final status so UIs reset their controls.
	status := s.ctrl.Status()
	s.broadcast(Frame{Status: &status, Stamp: time.Now().UnixMilli()})

	s.handleMu.Lock()
	if s.handle == handle {
		s.handle = nil
	}
	s.handleMu.Unlock()
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	s.handleMu.Lock()
	handle := s.handle
	s.handleMu.Unlock()
	if handle == nil {
		http.Error(w, "no sweep running", http.StatusConflict)
		return
	}
	handle.Cancel()
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"cancelling"}`))
}

func (s *Server) handleFan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	var in struct {
		Percent int `json:"percent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "bad request", 400)
		return
	}
	if err := s.ctrl.SetFanSpeed(in.Percent); err != nil {
		if errors.Is(err, sweep.ErrNoSession) {
			http.Error(w, err.Error(), http.StatusConflict)
		} else {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.ctrl.Status()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// handlePorts enumerates the host's serial endpoints for the UI picker.
func (s *Server) handlePorts(w http.ResponseWriter, r *http.Request) {
	ports, err := serial.GetPortsList()
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if ports == nil {
		ports = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ports)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(fixture.Profiles())
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		// Broadcast updated config
		if cfgJSON, err := s.cfg.ToJSON(); err == nil {
			s.broadcast(Frame{Config: cfgJSON, Stamp: time.Now().UnixMilli()})
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}
