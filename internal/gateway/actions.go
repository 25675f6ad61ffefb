package gateway

import "encoding/json"

// Client -> Server protocol.
//
// student:join          {name}
// student:submitAnswer  {answer}
// teacher:askQuestion   {text, options[], correct_answer_index?, time_limit_sec}
// teacher:nextQuestion  {}
// teacher:extendTime    {extra_sec}
// teacher:viewResults   {}
// teacher:kickStudent   {conn_id}
// chat:send             {message}
//
// Disconnects are transport-level and carry no payload.

// Action is the envelope for every inbound client message.
type Action struct {
	Type ActionType      `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ActionType names an inbound participant action.
type ActionType string

const (
	ActionJoin         ActionType = "student:join"
	ActionSubmitAnswer ActionType = "student:submitAnswer"
	ActionAskQuestion  ActionType = "teacher:askQuestion"
	ActionNextQuestion ActionType = "teacher:nextQuestion"
	ActionExtendTime   ActionType = "teacher:extendTime"
	ActionViewResults  ActionType = "teacher:viewResults"
	ActionKickStudent  ActionType = "teacher:kickStudent"
	ActionChatSend     ActionType = "chat:send"
)

// JoinAction is the payload for student:join.
type JoinAction struct {
	Name string `json:"name"`
}

// SubmitAnswerAction is the payload for student:submitAnswer.
type SubmitAnswerAction struct {
	Answer string `json:"answer"`
}

// AskQuestionAction is the payload for teacher:askQuestion.
type AskQuestionAction struct {
	Text             string   `json:"text"`
	Options          []string `json:"options"`
	CorrectAnswerIdx *int     `json:"correct_answer_index,omitempty"`
	TimeLimitSec     int      `json:"time_limit_sec"`
}

// ExtendTimeAction is the payload for teacher:extendTime.
type ExtendTimeAction struct {
	ExtraSec int `json:"extra_sec"`
}

// KickStudentAction is the payload for teacher:kickStudent.
type KickStudentAction struct {
	ConnID string `json:"conn_id"`
}

// ChatSendAction is the payload for chat:send.
type ChatSendAction struct {
	Message string `json:"message"`
}
