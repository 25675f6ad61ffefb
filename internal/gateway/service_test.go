package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harry-urek/Live-Poll/internal/poll"
)

func startTestService(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()

	config := DefaultConfig()
	config.GraceDelay = 50 * time.Millisecond
	service := NewService(config)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go service.Start(ctx)

	mux := http.NewServeMux()
	service.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return service, server
}

func dialPoll(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/poll"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendAction(t *testing.T, conn *websocket.Conn, actionType ActionType, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Action{Type: actionType, Data: data}))
}

// readUntil drains events from conn until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, eventType EventType) Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var event Event
		require.NoError(t, conn.ReadJSON(&event), "waiting for %s", eventType)
		if event.Type == eventType {
			return event
		}
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	service, server := startTestService(t)

	student := dialPoll(t, server)
	teacher := dialPoll(t, server)

	sendAction(t, student, ActionJoin, JoinAction{Name: "alice"})
	joined := readUntil(t, student, EventJoined)

	var ack JoinedPayload
	require.NoError(t, json.Unmarshal(joined.Data, &ack))
	assert.Equal(t, "alice", ack.Name)
	readUntil(t, student, EventStudentList)

	sendAction(t, teacher, ActionAskQuestion, AskQuestionAction{
		Text:         "x or y?",
		Options:      []string{"x", "y"},
		TimeLimitSec: 30,
	})
	question := readUntil(t, student, EventNewQuestion)

	var q poll.Question
	require.NoError(t, json.Unmarshal(question.Data, &q))
	assert.Equal(t, "x or y?", q.Text)

	// The single student answering completes the round immediately.
	sendAction(t, student, ActionSubmitAnswer, SubmitAnswerAction{Answer: "x"})
	complete := readUntil(t, student, EventComplete)

	var result CompletePayload
	require.NoError(t, json.Unmarshal(complete.Data, &result))
	assert.Equal(t, map[string]int{"x": 1}, result.Results)

	// Grace delay sends everyone back to waiting.
	readUntil(t, student, EventWaitingForQuestion)

	require.Eventually(t, func() bool {
		return len(service.Session().History()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocketDisconnectRemovesStudent(t *testing.T) {
	service, server := startTestService(t)

	student := dialPoll(t, server)
	observer := dialPoll(t, server)

	sendAction(t, student, ActionJoin, JoinAction{Name: "alice"})
	readUntil(t, observer, EventStudentList)

	student.Close()

	require.Eventually(t, func() bool {
		return service.Session().RosterSize() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSnapshotAPI(t *testing.T) {
	service, server := startTestService(t)

	service.Router().Join("c1", "alice")
	service.Router().AskQuestion(AskQuestionAction{
		Text:         "x or y?",
		Options:      []string{"x", "y"},
		TimeLimitSec: 30,
	})

	resp, err := http.Get(server.URL + "/api/poll/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var state struct {
		CurrentQuestion *poll.Question `json:"current_question"`
		StudentCount    int            `json:"student_count"`
		Phase           Phase          `json:"phase"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	require.NotNil(t, state.CurrentQuestion)
	assert.Equal(t, "x or y?", state.CurrentQuestion.Text)
	assert.Equal(t, 1, state.StudentCount)
	assert.Equal(t, PhaseQuestionActive, state.Phase)

	statsResp, err := http.Get(server.URL + "/api/poll/stats")
	require.NoError(t, err)
	defer statsResp.Body.Close()

	var stats poll.Stats
	require.NoError(t, json.NewDecoder(statsResp.Body).Decode(&stats))
	assert.Equal(t, 1, stats.TotalStudents)
	assert.True(t, stats.IsActive)
}

func TestSnapshotResetEndpoint(t *testing.T) {
	service, server := startTestService(t)
	service.Router().Join("c1", "alice")

	resp, err := http.Post(server.URL+"/api/poll/reset", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 0, service.Session().RosterSize())
	assert.Equal(t, PhaseIdle, service.Router().Phase())

	// Reset rejects non-POST.
	getResp, err := http.Get(server.URL + "/api/poll/reset")
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, getResp.StatusCode)
}

func TestSettingsEndpointMergesPatch(t *testing.T) {
	service, server := startTestService(t)

	resp, err := http.Post(server.URL+"/api/poll/settings", "application/json",
		strings.NewReader(`{"max_students": 5}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	settings := service.Session().Settings()
	assert.Equal(t, 5, settings.MaxStudents)
	assert.True(t, settings.ShowLiveResults)
}
