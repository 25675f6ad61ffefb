package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/harry-urek/Live-Poll/internal/poll"
)

// Event is the envelope for every outbound message, broadcast or directed.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EventType names an outbound notification. The values are the wire-level
// event names the frontend listens on.
type EventType string

const (
	EventJoined             EventType = "poll:joined"
	EventNewQuestion        EventType = "poll:newQuestion"
	EventTimeUpdate         EventType = "poll:timeUpdate"
	EventUpdateResults      EventType = "poll:updateResults"
	EventShowResults        EventType = "poll:showResults"
	EventStudentList        EventType = "poll:studentList"
	EventWaitingForQuestion EventType = "poll:waitingForQuestion"
	EventComplete           EventType = "poll:complete"
	EventKicked             EventType = "poll:kicked"
	EventChatMessage        EventType = "chat:message"
	EventTeacherResults     EventType = "teacher:pollResults"
)

// JoinedPayload acknowledges a successful join to the joiner only.
type JoinedPayload struct {
	Name      string `json:"name"`
	SessionID string `json:"session_id"`
}

// TimeUpdatePayload carries the server-authoritative remaining seconds.
type TimeUpdatePayload struct {
	RemainingSec int `json:"remaining_sec"`
}

// UpdateResultsPayload carries a results tally: live after each submission,
// frozen when a completed round is replayed to a late joiner.
type UpdateResultsPayload struct {
	Results map[string]int `json:"results"`
}

// RosterEntry is the public roster projection. Who has answered is visible
// mid-round; what they answered is not.
type RosterEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Answered bool   `json:"answered"`
}

// StudentListPayload carries the refreshed roster keyed by connection id.
type StudentListPayload struct {
	Students map[string]RosterEntry `json:"students"`
}

// CompletePayload closes out a round for every participant.
type CompletePayload struct {
	Question poll.Question  `json:"question"`
	Results  map[string]int `json:"results"`
}

// TeacherResultsPayload is the teacher-facing round summary.
type TeacherResultsPayload struct {
	Question      *poll.CompletedQuestion `json:"question"`
	Results       map[string]int          `json:"results"`
	StudentCount  int                     `json:"student_count"`
	AnsweredCount int                     `json:"answered_count"`
}

// KickedPayload tells a single connection it was removed from the session.
type KickedPayload struct {
	Reason string `json:"reason"`
}

// newEvent wraps a payload in the outbound envelope. Payloads are our own
// structs, so a marshal failure is a programming error; it is logged and
// yields a nil event the broadcaster ignores.
func newEvent(clockNow time.Time, eventType EventType, payload any) *Event {
	event := &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: clockNow,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal event payload")
			return nil
		}
		event.Data = data
	}
	return event
}
