package httpapi

import (
	"net/http"
	"time"
)

type serverStatusResponse struct {
	Servers     []serverStatusEntry `json:"servers"`
	LastChecked time.Time           `json:"lastChecked"`
}

type serverStatusEntry struct {
	Name      string              `json:"name"`
	IsRunning bool                `json:"isRunning"`
	Tools     []toolSummaryEntry  `json:"tools"`
}

type toolSummaryEntry struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// handleServerStatus implements GET /api/server-status (spec §6).
func (s *Server) handleServerStatus(w http.ResponseWriter, r *http.Request) {
	statuses := s.mcp.Status()
	resp := serverStatusResponse{
		Servers:     make([]serverStatusEntry, 0, len(statuses)),
		LastChecked: time.Now(),
	}
	for _, st := range statuses {
		entry := serverStatusEntry{Name: st.Name, IsRunning: st.IsRunning, Tools: make([]toolSummaryEntry, 0, len(st.Tools))}
		for _, t := range st.Tools {
			entry.Tools = append(entry.Tools, toolSummaryEntry{Name: t.Name, Description: t.Description})
		}
		resp.Servers = append(resp.Servers, entry)
	}
	writeJSON(w, http.StatusOK, resp)
}
