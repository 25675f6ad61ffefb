package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/harry-urek/Live-Poll/internal/poll"
)

// SnapshotHandler serves read-only projections of the session state plus the
// administrative reset and settings endpoints. Snapshot reads mutate
// nothing; reset and settings go through the router so broadcasts stay
// ordered.
type SnapshotHandler struct {
	session *poll.Session
	router  *Router
}

// NewSnapshotHandler creates the snapshot handler.
func NewSnapshotHandler(session *poll.Session, router *Router) *SnapshotHandler {
	return &SnapshotHandler{session: session, router: router}
}

// pollState is the summary served by GET /api/poll/state.
type pollState struct {
	CurrentQuestion *poll.Question      `json:"current_question,omitempty"`
	Results         poll.ResultsSummary `json:"results"`
	StudentCount    int                 `json:"student_count"`
	Phase           Phase               `json:"phase"`
}

// HandleState serves the current state summary.
func (h *SnapshotHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, pollState{
		CurrentQuestion: h.session.CurrentQuestion(),
		Results:         h.session.ResultsWithPercentages(),
		StudentCount:    h.session.RosterSize(),
		Phase:           h.router.Phase(),
	})
}

// HandleStudents serves the roster list.
func (h *SnapshotHandler) HandleStudents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]any{
		"students":   h.session.Roster(),
		"unanswered": h.session.UnansweredStudents(),
	})
}

// HandleChat serves the chat log.
func (h *SnapshotHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]any{"chat": h.session.ChatLog()})
}

// HandleHistory serves the completed-question history.
func (h *SnapshotHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, map[string]any{"history": h.session.History()})
}

// HandleStats serves the aggregate session statistics.
func (h *SnapshotHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.session.Stats())
}

// HandleExport serves the full session dump.
func (h *SnapshotHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.session.ExportData())
}

// HandleReset performs the administrative reset.
func (h *SnapshotHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.router.Reset()
	writeJSON(w, map[string]string{"message": "poll reset successfully"})
}

// HandleSettings merges a partial settings update.
func (h *SnapshotHandler) HandleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, h.session.Settings())
	case http.MethodPost:
		var patch poll.SettingsPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			http.Error(w, "invalid settings payload", http.StatusBadRequest)
			return
		}
		writeJSON(w, h.session.UpdateSettings(patch))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// RegisterRoutes registers the snapshot API.
func (h *SnapshotHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/poll/state", h.HandleState)
	mux.HandleFunc("/api/poll/students", h.HandleStudents)
	mux.HandleFunc("/api/poll/chat", h.HandleChat)
	mux.HandleFunc("/api/poll/history", h.HandleHistory)
	mux.HandleFunc("/api/poll/stats", h.HandleStats)
	mux.HandleFunc("/api/poll/export", h.HandleExport)
	mux.HandleFunc("/api/poll/reset", h.HandleReset)
	mux.HandleFunc("/api/poll/settings", h.HandleSettings)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode snapshot response")
	}
}
