package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/scbe/fleet/internal/crawl"
	"github.com/scbe/fleet/internal/governance"
	"github.com/scbe/fleet/internal/oscillator"
	"github.com/scbe/fleet/internal/registry"
	"github.com/scbe/fleet/internal/tasks"
)

// Snapshot is the full fleet-wide state the dashboard broadcasts on
// every tick.
type Snapshot struct {
	Timestamp       time.Time         `json:"timestamp"`
	QueueDepth      int               `json:"queue_depth"`
	TrustHistogram  map[string]int    `json:"trust_histogram"`
	QuarantineCount int               `json:"quarantine_count"`
	Oscillator      oscillator.Snapshot `json:"oscillator"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the dashboard's HTTP+WS surface: a view over the registry,
// dispatcher, crawl coordinator, and oscillator bus, plus the agent,
// task and roundtable-vote write endpoints.
type Server struct {
	hub        *Hub
	registry   *registry.Registry
	dispatcher *tasks.Dispatcher
	coord      *crawl.Coordinator
	osc        *oscillator.Bus
	roundtable *governance.Roundtable

	tickInterval time.Duration
	stop         chan struct{}
	done         chan struct{}
}

// New constructs a dashboard Server wired to the fleet's live
// subsystems. Any subsystem may be nil if it isn't in use by the
// calling deployment; the corresponding endpoints then report
// unavailable rather than panicking.
func New(reg *registry.Registry, dispatcher *tasks.Dispatcher, coord *crawl.Coordinator, osc *oscillator.Bus) *Server {
	return &Server{
		hub:          NewHub(),
		registry:     reg,
		dispatcher:   dispatcher,
		coord:        coord,
		osc:          osc,
		tickInterval: time.Second,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// SetRoundtable wires the governance roundtable so /roundtable/{id}/vote
// can be served. Optional: voting is unavailable until this is called.
func (s *Server) SetRoundtable(rt *governance.Roundtable) {
	s.roundtable = rt
}

// Router builds the mux.Router serving the WebSocket upgrade endpoint,
// the read-only snapshot/health endpoints, and the operator write
// endpoints fleetctl drives (register agent, submit task, cast vote).
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/agents", s.handleRegisterAgent).Methods(http.MethodPost)
	r.HandleFunc("/tasks", s.handleSubmitTask).Methods(http.MethodPost)
	r.HandleFunc("/roundtable/{id}/vote", s.handleCastVote).Methods(http.MethodPost)
	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := &Client{hub: s.hub, conn: conn, send: make(chan []byte, WebSocketBufferSize)}
	s.hub.Register(client)

	go client.writePump()
	go client.readPump()
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.buildSnapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// registerAgentRequest is the JSON body for POST /agents.
type registerAgentRequest struct {
	Name               string   `json:"name"`
	Provider           string   `json:"provider"`
	Model              string   `json:"model"`
	Capabilities       []string `json:"capabilities"`
	MaxConcurrentTasks int      `json:"max_concurrent_tasks"`
	MaxGovernanceTier  string   `json:"max_governance_tier"`
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		http.Error(w, "registry unavailable", http.StatusServiceUnavailable)
		return
	}
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	caps := make([]registry.Capability, len(req.Capabilities))
	for i, c := range req.Capabilities {
		caps[i] = registry.Capability(c)
	}

	agent, err := s.registry.Register(registry.RegisterOptions{
		Name:               req.Name,
		Provider:           req.Provider,
		Model:              req.Model,
		Capabilities:       caps,
		MaxConcurrentTasks: req.MaxConcurrentTasks,
		MaxGovernanceTier:  governance.Tier(req.MaxGovernanceTier),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, agent)
}

// submitTaskRequest is the JSON body for POST /tasks.
type submitTaskRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		http.Error(w, "dispatcher unavailable", http.StatusServiceUnavailable)
		return
	}
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	task := tasks.NewTask(req.Name, req.Description, tasks.Priority(req.Priority))
	if err := s.dispatcher.Submit(task); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, task)
}

// castVoteRequest is the JSON body for POST /roundtable/{id}/vote.
type castVoteRequest struct {
	VoterID string `json:"voter_id"`
	Choice  string `json:"choice"`
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	if s.roundtable == nil {
		http.Error(w, "roundtable unavailable", http.StatusServiceUnavailable)
		return
	}
	sessionID := mux.Vars(r)["id"]
	var req castVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	status, err := s.roundtable.CastVote(sessionID, req.VoterID, governance.VoteChoice(req.Choice))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]string{"status": string(status)})
}

func (s *Server) buildSnapshot() Snapshot {
	snap := Snapshot{Timestamp: time.Now()}
	if s.registry != nil {
		snap.TrustHistogram = s.registry.TrustHistogram()
		snap.QuarantineCount = s.registry.QuarantineCount()
	}
	if s.dispatcher != nil {
		snap.QueueDepth = s.dispatcher.QueueDepth()
	}
	if s.osc != nil {
		snap.Oscillator = s.osc.ComputeSnapshot()
	}
	return snap
}

// Run starts the hub's broadcast loop and a ticking goroutine that
// periodically pushes a fresh Snapshot to every connected client. It
// blocks until Stop is called.
func (s *Server) Run() {
	defer close(s.done)
	go s.hub.Run()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			snap := s.buildSnapshot()
			s.hub.BroadcastSnapshot(&snap)
		}
	}
}

// Stop halts the tick loop and waits for Run to exit.
func (s *Server) Stop() {
	close(s.stop)
	<-s.done
}

// ClientCount reports the number of connected dashboard clients.
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}
