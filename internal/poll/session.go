package poll

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// chatLogCap bounds the in-memory chat log; oldest entries are evicted.
const chatLogCap = 100

// Session is the single source of truth for one live poll: roster, current
// question, tally, history, chat and settings. All exported operations are
// atomic with respect to each other. The Event Router serializes mutations;
// the internal lock additionally lets read-only snapshot handlers observe
// consistent state from their own goroutines.
type Session struct {
	mu    sync.RWMutex
	clock clockwork.Clock

	currentQuestion *Question
	questionHistory []CompletedQuestion
	students        map[string]*Student
	tally           map[string]int
	chat            []ChatMessage
	showResults     bool
	isActive        bool
	settings        Settings
	metadata        Metadata
}

// NewSession creates a session with the given starting settings.
func NewSession(settings Settings, clock clockwork.Clock) *Session {
	s := &Session{clock: clock}
	s.resetLocked(settings)
	return s
}

// Reset clears all state and issues a fresh session id. Settings revert to
// defaults; used on explicit administrative reset.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(DefaultSettings())
	log.Info().Str("session_id", s.metadata.SessionID).Msg("poll session reset")
}

func (s *Session) resetLocked(settings Settings) {
	now := s.clock.Now()
	s.currentQuestion = nil
	s.questionHistory = nil
	s.students = make(map[string]*Student)
	s.tally = make(map[string]int)
	s.chat = nil
	s.showResults = false
	s.isActive = false
	s.settings = settings
	s.metadata = Metadata{
		SessionID:    "poll_" + uuid.NewString(),
		CreatedAt:    now,
		LastActivity: now,
	}
}

// AddStudent inserts a roster entry for connID. Fails with
// ErrCapacityExceeded once the roster is at MaxStudents.
func (s *Session) AddStudent(connID, name string) (Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.students) >= s.settings.MaxStudents {
		return Student{}, ErrCapacityExceeded
	}

	student := &Student{
		ID:       connID,
		Name:     name,
		JoinedAt: s.clock.Now(),
		IsActive: true,
	}
	s.students[connID] = student
	s.touchLocked()

	log.Info().Str("conn_id", connID).Str("name", name).Msg("student joined")
	return *student, nil
}

// RemoveStudent removes and returns the roster entry for connID, or
// ErrNotFound if there is none. Callers treat ErrNotFound as a no-op.
func (s *Session) RemoveStudent(connID string) (Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	student, ok := s.students[connID]
	if !ok {
		return Student{}, ErrNotFound
	}
	delete(s.students, connID)
	s.touchLocked()

	log.Info().Str("conn_id", connID).Str("name", student.Name).Msg("student removed")
	return *student, nil
}

// SetCurrentQuestion installs a new active question, clears the tally and
// resets every roster entry's answer state. Any prior active question is
// overwritten; the caller is responsible for having completed it.
func (s *Session) SetCurrentQuestion(q Question) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentQuestion = &q
	s.tally = make(map[string]int)
	s.showResults = false
	s.isActive = true

	for _, student := range s.students {
		student.Answered = false
		student.Answer = nil
		student.AnsweredAt = nil
	}
	s.touchLocked()

	log.Info().Str("question_id", q.ID).Str("text", q.Text).Msg("question started")
}

// SubmitAnswer records a student's answer and returns the updated tally.
// Re-answering is only allowed when late submissions are enabled; the
// previous answer's count is then moved so the tally always sums to the
// number of answered students.
func (s *Session) SubmitAnswer(connID, answer string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	student, ok := s.students[connID]
	if !ok {
		return nil, ErrUnknownStudent
	}
	if s.currentQuestion == nil {
		return nil, ErrNoActiveQuestion
	}
	if student.Answered && !s.settings.AllowLateSubmissions {
		return nil, ErrAlreadyAnswered
	}

	if student.Answered && student.Answer != nil {
		s.tally[*student.Answer]--
		if s.tally[*student.Answer] <= 0 {
			delete(s.tally, *student.Answer)
		}
	}

	now := s.clock.Now()
	student.Answered = true
	student.Answer = &answer
	student.AnsweredAt = &now
	s.tally[answer]++
	s.touchLocked()

	log.Info().Str("conn_id", connID).Str("name", student.Name).Str("answer", answer).Msg("answer submitted")
	return copyTally(s.tally), nil
}

// CompleteQuestion snapshots the active question plus tally into the history
// and clears the active flag. Returns nil when no question is active.
func (s *Session) CompleteQuestion() *CompletedQuestion {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentQuestion == nil {
		return nil
	}

	answered := 0
	for _, student := range s.students {
		if student.Answered {
			answered++
		}
	}

	completed := CompletedQuestion{
		Question:      *s.currentQuestion,
		Results:       copyTally(s.tally),
		CompletedAt:   s.clock.Now(),
		TotalStudents: len(s.students),
		TotalAnswered: answered,
	}
	s.questionHistory = append(s.questionHistory, completed)
	s.currentQuestion = nil
	s.showResults = true
	s.isActive = false
	s.touchLocked()

	log.Info().
		Str("question_id", completed.ID).
		Int("total_answered", completed.TotalAnswered).
		Int("total_students", completed.TotalStudents).
		Msg("question completed")
	return &completed
}

// ClearCurrentQuestion drops the active question without recording history.
// Used when advancing past a round that was already completed.
func (s *Session) ClearCurrentQuestion() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentQuestion = nil
	s.showResults = false
	s.isActive = false
	s.touchLocked()
}

// AreAllAnswered reports whether every active student has answered. False
// for an empty roster.
func (s *Session) AreAllAnswered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := 0
	for _, student := range s.students {
		if !student.IsActive {
			continue
		}
		active++
		if !student.Answered {
			return false
		}
	}
	return active > 0
}

// ResultsWithPercentages derives the per-answer breakdown. Percentages are
// all zero when no votes have been cast.
func (s *Session) ResultsWithPercentages() ResultsSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totalVotes := 0
	for _, count := range s.tally {
		totalVotes += count
	}

	results := make(map[string]AnswerResult, len(s.tally))
	for answer, count := range s.tally {
		pct := 0
		if totalVotes > 0 {
			pct = int(float64(count)/float64(totalVotes)*100 + 0.5)
		}
		results[answer] = AnswerResult{Count: count, Percentage: pct}
	}

	return ResultsSummary{
		Results:       results,
		TotalVotes:    totalVotes,
		TotalStudents: len(s.students),
	}
}

// AddChatMessage appends a chat entry from a known student, trimming the log
// to the most recent entries.
func (s *Session) AddChatMessage(connID, message string) (ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	student, ok := s.students[connID]
	if !ok {
		return ChatMessage{}, ErrUnknownStudent
	}

	entry := ChatMessage{
		ID:        "msg_" + uuid.NewString(),
		StudentID: connID,
		Name:      student.Name,
		Message:   message,
		Timestamp: s.clock.Now(),
	}
	s.chat = append(s.chat, entry)
	if len(s.chat) > chatLogCap {
		s.chat = s.chat[len(s.chat)-chatLogCap:]
	}
	s.touchLocked()
	return entry, nil
}

// UpdateSettings merges the non-nil fields of patch into the settings and
// returns the result. Values are merged as-is without validation.
func (s *Session) UpdateSettings(patch SettingsPatch) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	if patch.AllowLateSubmissions != nil {
		s.settings.AllowLateSubmissions = *patch.AllowLateSubmissions
	}
	if patch.ShowLiveResults != nil {
		s.settings.ShowLiveResults = *patch.ShowLiveResults
	}
	if patch.AutoNextQuestion != nil {
		s.settings.AutoNextQuestion = *patch.AutoNextQuestion
	}
	if patch.MaxStudents != nil {
		s.settings.MaxStudents = *patch.MaxStudents
	}
	s.touchLocked()

	log.Info().Interface("settings", s.settings).Msg("settings updated")
	return s.settings
}

// CurrentQuestion returns a copy of the active question, or nil.
func (s *Session) CurrentQuestion() *Question {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentQuestion == nil {
		return nil
	}
	q := *s.currentQuestion
	return &q
}

// Tally returns a copy of the live tally.
func (s *Session) Tally() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyTally(s.tally)
}

// Roster returns a copy of the roster keyed by connection id.
func (s *Session) Roster() map[string]Student {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roster := make(map[string]Student, len(s.students))
	for id, student := range s.students {
		roster[id] = *student
	}
	return roster
}

// RosterSize returns the current number of connected students.
func (s *Session) RosterSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.students)
}

// UnansweredStudents lists active students still on the clock.
func (s *Session) UnansweredStudents() []UnansweredStudent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []UnansweredStudent
	for _, student := range s.students {
		if student.IsActive && !student.Answered {
			out = append(out, UnansweredStudent{
				ID:       student.ID,
				Name:     student.Name,
				JoinedAt: student.JoinedAt,
			})
		}
	}
	return out
}

// History returns a copy of the completed-question history, oldest first.
func (s *Session) History() []CompletedQuestion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := make([]CompletedQuestion, len(s.questionHistory))
	copy(history, s.questionHistory)
	return history
}

// LastCompleted returns the most recent completed question, or nil.
func (s *Session) LastCompleted() *CompletedQuestion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.questionHistory) == 0 {
		return nil
	}
	last := s.questionHistory[len(s.questionHistory)-1]
	return &last
}

// ChatLog returns a copy of the chat log, oldest first.
func (s *Session) ChatLog() []ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat := make([]ChatMessage, len(s.chat))
	copy(chat, s.chat)
	return chat
}

// Settings returns the current settings.
func (s *Session) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// ShowResults reports whether the last round's results are on display.
func (s *Session) ShowResults() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.showResults
}

// Stats assembles the aggregate session snapshot.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active, answered := 0, 0
	for _, student := range s.students {
		if student.IsActive {
			active++
		}
		if student.Answered {
			answered++
		}
	}

	stats := Stats{
		SessionID:          s.metadata.SessionID,
		TotalStudents:      len(s.students),
		ActiveStudents:     active,
		AnsweredCount:      answered,
		CompletedQuestions: len(s.questionHistory),
		IsActive:           s.isActive,
		ShowResults:        s.showResults,
		CreatedAt:          s.metadata.CreatedAt,
		LastActivity:       s.metadata.LastActivity,
	}
	if s.currentQuestion != nil {
		q := *s.currentQuestion
		stats.CurrentQuestion = &q
	}
	return stats
}

// ExportData assembles the full session dump.
func (s *Session) ExportData() Export {
	stats := s.Stats()

	s.mu.RLock()
	defer s.mu.RUnlock()

	students := make([]Student, 0, len(s.students))
	for _, student := range s.students {
		students = append(students, *student)
	}

	history := make([]CompletedQuestion, len(s.questionHistory))
	copy(history, s.questionHistory)
	chat := make([]ChatMessage, len(s.chat))
	copy(chat, s.chat)

	return Export{
		Metadata: s.metadata,
		Settings: s.settings,
		History:  history,
		Students: students,
		Chat:     chat,
		Stats:    stats,
	}
}

func (s *Session) touchLocked() {
	s.metadata.LastActivity = s.clock.Now()
}

func copyTally(tally map[string]int) map[string]int {
	out := make(map[string]int, len(tally))
	for answer, count := range tally {
		out[answer] = count
	}
	return out
}
