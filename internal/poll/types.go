package poll

import (
	"time"
)

// Question is a poll question as asked by the teacher. Immutable once created.
type Question struct {
	ID               string    `json:"id"`
	Text             string    `json:"text"`
	Options          []string  `json:"options"`
	CorrectAnswerIdx *int      `json:"correct_answer_index,omitempty"`
	TimeLimitSec     int       `json:"time_limit_sec"`
	CreatedAt        time.Time `json:"created_at"`
}

// CompletedQuestion is a Question frozen together with its final tally.
// Created exactly once per round, never mutated afterwards.
type CompletedQuestion struct {
	Question
	Results       map[string]int `json:"results"`
	CompletedAt   time.Time      `json:"completed_at"`
	TotalStudents int            `json:"total_students"`
	TotalAnswered int            `json:"total_answered"`
}

// Student is one connected participant, keyed by connection id.
type Student struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Answered   bool       `json:"answered"`
	Answer     *string    `json:"answer,omitempty"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
	JoinedAt   time.Time  `json:"joined_at"`
	IsActive   bool       `json:"is_active"`
}

// ChatMessage is one entry in the bounded session chat log.
type ChatMessage struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	Name      string    `json:"name"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Settings holds session configuration. Partial updates are merged as-is;
// values are not validated (known limitation).
type Settings struct {
	AllowLateSubmissions bool `json:"allow_late_submissions" yaml:"allow_late_submissions"`
	ShowLiveResults      bool `json:"show_live_results" yaml:"show_live_results"`
	AutoNextQuestion     bool `json:"auto_next_question" yaml:"auto_next_question"`
	MaxStudents          int  `json:"max_students" yaml:"max_students"`
}

// SettingsPatch is a partial Settings; nil fields are left unchanged on merge.
type SettingsPatch struct {
	AllowLateSubmissions *bool `json:"allow_late_submissions,omitempty" yaml:"allow_late_submissions"`
	ShowLiveResults      *bool `json:"show_live_results,omitempty" yaml:"show_live_results"`
	AutoNextQuestion     *bool `json:"auto_next_question,omitempty" yaml:"auto_next_question"`
	MaxStudents          *int  `json:"max_students,omitempty" yaml:"max_students"`
}

// DefaultSettings mirrors the defaults a fresh session starts with.
func DefaultSettings() Settings {
	return Settings{
		AllowLateSubmissions: false,
		ShowLiveResults:      true,
		AutoNextQuestion:     false,
		MaxStudents:          100,
	}
}

// Metadata identifies one session instance.
type Metadata struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// AnswerResult is the per-answer breakdown returned by ResultsWithPercentages.
type AnswerResult struct {
	Count      int `json:"count"`
	Percentage int `json:"percentage"`
}

// ResultsSummary is the derived tally projection with percentages.
type ResultsSummary struct {
	Results       map[string]AnswerResult `json:"results"`
	TotalVotes    int                     `json:"total_votes"`
	TotalStudents int                     `json:"total_students"`
}

// Stats is the aggregate session snapshot served by the read-only API.
type Stats struct {
	SessionID          string    `json:"session_id"`
	TotalStudents      int       `json:"total_students"`
	ActiveStudents     int       `json:"active_students"`
	AnsweredCount      int       `json:"answered_count"`
	CompletedQuestions int       `json:"completed_questions"`
	CurrentQuestion    *Question `json:"current_question,omitempty"`
	IsActive           bool      `json:"is_active"`
	ShowResults        bool      `json:"show_results"`
	CreatedAt          time.Time `json:"created_at"`
	LastActivity       time.Time `json:"last_activity"`
}

// UnansweredStudent is the reduced roster view of students still on the clock.
type UnansweredStudent struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
}

// Export is the full session dump served by the export endpoint.
type Export struct {
	Metadata Metadata            `json:"metadata"`
	Settings Settings            `json:"settings"`
	History  []CompletedQuestion `json:"question_history"`
	Students []Student           `json:"students"`
	Chat     []ChatMessage       `json:"chat"`
	Stats    Stats               `json:"stats"`
}
