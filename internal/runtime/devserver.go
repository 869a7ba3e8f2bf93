package runtime

import (
	"os/exec"
	"sync"
	"time"
)

// DevServer is one long-running process started on behalf of a run.
type DevServer struct {
	ID        string
	RunID     string
	Command   string
	StartedAt time.Time

	cmd *exec.Cmd
}

// StopResult reports one stopped server.
type StopResult struct {
	ServerID    string  `json:"server_id"`
	Success     bool    `json:"success"`
	RuntimeSecs float64 `json:"runtime_secs"`
}

// DevServerRegistry tracks dev servers per run so worker termination can
// reap them. Stops are best-effort; a server that already exited counts as
// stopped.
type DevServerRegistry struct {
	mu      sync.Mutex
	servers map[string]*DevServer
}

// NewDevServerRegistry creates an empty registry.
func NewDevServerRegistry() *DevServerRegistry {
	return &DevServerRegistry{servers: make(map[string]*DevServer)}
}

// Register tracks a started process under the run.
func (r *DevServerRegistry) Register(id, runID, command string, cmd *exec.Cmd) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[id] = &DevServer{
		ID:        id,
		RunID:     runID,
		Command:   command,
		StartedAt: time.Now(),
		cmd:       cmd,
	}
}

// ListForRun returns the ids of servers belonging to a run.
func (r *DevServerRegistry) ListForRun(runID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0)
	for id, server := range r.servers {
		if server.RunID == runID {
			ids = append(ids, id)
		}
	}
	return ids
}

// StopAllForRun kills every server belonging to the run and drops it from the
// registry.
func (r *DevServerRegistry) StopAllForRun(runID string) []StopResult {
	r.mu.Lock()
	var toStop []*DevServer
	for id, server := range r.servers {
		if server.RunID == runID {
			toStop = append(toStop, server)
			delete(r.servers, id)
		}
	}
	r.mu.Unlock()

	results := make([]StopResult, 0, len(toStop))
	for _, server := range toStop {
		success := true
		if server.cmd != nil && server.cmd.Process != nil {
			if err := server.cmd.Process.Kill(); err != nil {
				// Already-exited processes fail Kill; that still counts.
				success = server.cmd.ProcessState != nil
			}
		}
		results = append(results, StopResult{
			ServerID:    server.ID,
			Success:     success,
			RuntimeSecs: time.Since(server.StartedAt).Seconds(),
		})
	}
	return results
}
