// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
)

// Alert is one alert received by FakeAdminServer.
type Alert struct {
	LabCode   string
	ClientID  string
	Message   string
	Timestamp string
}

// FakeAdminServer mimics the lab admin server's HTTP API in memory.
type FakeAdminServer struct {
	*httptest.Server

	mu            sync.Mutex
	nextID        int
	labPrompt     string
	down          bool
	rejectAlerts  bool
	rejectLogs    bool
	registrations []string
	heartbeats    map[string]int
	alerts        []Alert
	logs          map[string][]string
}

// NewFakeAdminServer starts a fake admin server. Call Close when done.
func NewFakeAdminServer() *FakeAdminServer {
	f := &FakeAdminServer{
		heartbeats: make(map[string]int),
		logs:       make(map[string][]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", f.handleRoot)
	mux.HandleFunc("POST /api/clients/register", f.handleRegister)
	mux.HandleFunc("POST /api/clients/heartbeat", f.handleHeartbeat)
	mux.HandleFunc("POST /api/alerts/{lab}/{client}", f.handleAlert)
	mux.HandleFunc("POST /api/alerts/{client}", f.handleLogs)

	f.Server = httptest.NewServer(mux)
	return f
}

// SetDown makes every endpoint answer 503 while down is true.
func (f *FakeAdminServer) SetDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

// SetLabPrompt sets the prompt returned at registration.
func (f *FakeAdminServer) SetLabPrompt(prompt string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labPrompt = prompt
}

// RejectAlerts makes the alert endpoint answer 500.
func (f *FakeAdminServer) RejectAlerts(reject bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectAlerts = reject
}

// RejectLogs makes the bulk log endpoint answer 500.
func (f *FakeAdminServer) RejectLogs(reject bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectLogs = reject
}

// Registrations returns the client names that registered, in order.
func (f *FakeAdminServer) Registrations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.registrations...)
}

// Heartbeats returns the heartbeat count for clientID.
func (f *FakeAdminServer) Heartbeats(clientID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heartbeats[clientID]
}

// Alerts returns every accepted alert.
func (f *FakeAdminServer) Alerts() []Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Alert(nil), f.alerts...)
}

// Logs returns the raw log records uploaded for clientID.
func (f *FakeAdminServer) Logs(clientID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.logs[clientID]...)
}

func (f *FakeAdminServer) isDown(w http.ResponseWriter) bool {
	f.mu.Lock()
	down := f.down
	f.mu.Unlock()
	if down {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}
	return down
}

func (f *FakeAdminServer) handleRoot(w http.ResponseWriter, _ *http.Request) {
	if f.isDown(w) {
		return
	}
	fmt.Fprintln(w, "lab admin")
}

func (f *FakeAdminServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	if f.isDown(w) {
		return
	}
	var req struct {
		LabCode    string `json:"labCode"`
		ClientName string `json:"clientName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LabCode == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("client-%d", f.nextID)
	f.registrations = append(f.registrations, req.ClientName)
	prompt := f.labPrompt
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"clientId": id, "labPrompt": prompt})
}

func (f *FakeAdminServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if f.isDown(w) {
		return
	}
	var req struct {
		ClientID string `json:"clientId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.heartbeats[req.ClientID]++
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (f *FakeAdminServer) handleAlert(w http.ResponseWriter, r *http.Request) {
	if f.isDown(w) {
		return
	}
	var req struct {
		Message   string `json:"message"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectAlerts {
		http.Error(w, "alert store unavailable", http.StatusInternalServerError)
		return
	}
	f.alerts = append(f.alerts, Alert{
		LabCode:   r.PathValue("lab"),
		ClientID:  r.PathValue("client"),
		Message:   req.Message,
		Timestamp: req.Timestamp,
	})
	w.WriteHeader(http.StatusOK)
}

func (f *FakeAdminServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	if f.isDown(w) {
		return
	}
	var req struct {
		Logs []string `json:"logs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectLogs {
		http.Error(w, "log store unavailable", http.StatusInternalServerError)
		return
	}
	client := r.PathValue("client")
	f.logs[client] = append(f.logs[client], req.Logs...)
	w.WriteHeader(http.StatusOK)
}
