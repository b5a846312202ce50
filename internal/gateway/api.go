// ABOUTME: Internal HTTP API used by the dashboard backend
// ABOUTME: Command submission, server record reads, and SSH deployment

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/2389/dashblock/internal/auth"
	"github.com/2389/dashblock/internal/deploy"
	"github.com/2389/dashblock/internal/protocol"
	"github.com/2389/dashblock/internal/store"
)

// CommandRequest is the JSON body for POST /internal/command.
type CommandRequest struct {
	ServerID string `json:"serverId"`
	Command  string `json:"command"`
}

// CommandResponse is the JSON response for POST /internal/command.
// Delivered counts the agent sessions the command was queued to; zero
// means no agent is connected and the command was dropped.
type CommandResponse struct {
	Success   bool             `json:"success"`
	Command   protocol.Command `json:"command"`
	Delivered int              `json:"delivered"`
}

// ServerResponse is a server record as exposed by the internal API.
// The agent key is never included.
type ServerResponse struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	IsConnected   bool    `json:"isConnected"`
	Status        string  `json:"status"`
	ServerType    string  `json:"serverType"`
	MCVersion     string  `json:"mcVersion"`
	Port          int     `json:"port"`
	PlayersOnline int     `json:"playersOnline"`
	MaxPlayers    int     `json:"maxPlayers"`
	LastSeen      *string `json:"lastSeen,omitempty"`
	CreatedAt     string  `json:"createdAt"`
	UpdatedAt     string  `json:"updatedAt"`
}

// DeployRequest is the JSON body for POST /internal/deploy.
type DeployRequest struct {
	ServerID   string `json:"serverId"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	PrivateKey string `json:"privateKey"`
	Passphrase string `json:"passphrase,omitempty"`
	ServerPath string `json:"serverPath"`
}

func toServerResponse(s *store.Server) ServerResponse {
	resp := ServerResponse{
		ID:            s.ID,
		Name:          s.Name,
		IsConnected:   s.IsConnected,
		Status:        s.Status,
		ServerType:    s.ServerType,
		MCVersion:     s.MCVersion,
		Port:          s.Port,
		PlayersOnline: s.PlayersOnline,
		MaxPlayers:    s.MaxPlayers,
		CreatedAt:     s.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     s.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if s.LastSeen != nil {
		seen := s.LastSeen.UTC().Format(time.RFC3339)
		resp.LastSeen = &seen
	}
	return resp
}

// handleCommand handles POST /internal/command.
// The command is broadcast to every agent bound to the server; there is
// no receipt and no buffering for offline agents.
func (g *Gateway) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ServerID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "serverId is required")
		return
	}

	cmd, err := protocol.ParseCommand(req.Command)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid command")
		return
	}

	delivered := g.hub.DispatchCommand(req.ServerID, cmd)
	g.logger.Info("command submitted",
		"server_id", req.ServerID,
		"command", cmd,
		"delivered", delivered,
		"caller", auth.SubjectFromContext(r.Context()),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(CommandResponse{Success: true, Command: cmd, Delivered: delivered})
}

// handleListServers handles GET /internal/servers.
func (g *Gateway) handleListServers(w http.ResponseWriter, r *http.Request) {
	servers, err := g.store.ListServers(r.Context())
	if err != nil {
		g.logger.Error("failed to list servers", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]ServerResponse, 0, len(servers))
	for _, s := range servers {
		response = append(response, toServerResponse(s))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// handleGetServer handles GET /internal/servers/{id}.
func (g *Gateway) handleGetServer(w http.ResponseWriter, r *http.Request) {
	s, err := g.store.GetServer(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "server not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get server", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(toServerResponse(s))
}

// handleDeploy handles POST /internal/deploy.
// The run is synchronous; the orchestrator result is returned as-is with 200
// whether or not the deployment succeeded.
func (g *Gateway) handleDeploy(w http.ResponseWriter, r *http.Request) {
	if g.deployer == nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, "deploy is not configured")
		return
	}

	var req DeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ServerID == "" || req.Host == "" || req.Username == "" || req.PrivateKey == "" || req.ServerPath == "" {
		g.sendJSONError(w, http.StatusBadRequest, "serverId, host, username, privateKey and serverPath are required")
		return
	}

	ctx := r.Context()
	srv, err := g.store.GetServer(ctx, req.ServerID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "server not found")
		return
	}
	if err != nil {
		g.logger.Error("failed to get server", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.logger.Info("deploy requested",
		"server_id", srv.ID,
		"host", req.Host,
		"caller", auth.SubjectFromContext(ctx),
	)

	result := g.deployer.Deploy(ctx, deploy.Request{
		Host:       req.Host,
		Port:       req.Port,
		Username:   req.Username,
		PrivateKey: []byte(req.PrivateKey),
		Passphrase: []byte(req.Passphrase),
		ServerPath: req.ServerPath,
		AgentKey:   srv.AgentKey,
		RelayURL:   g.config.Deploy.RelayURL,
	})
	g.metrics.DeploymentFinished(result.Success)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
