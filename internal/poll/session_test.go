package poll

import (
	"fmt"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(settings Settings) *Session {
	return NewSession(settings, clockwork.NewFakeClock())
}

func activeQuestion() Question {
	return Question{
		ID:           "q_test",
		Text:         "favorite color?",
		Options:      []string{"red", "blue"},
		TimeLimitSec: 30,
	}
}

func TestAddStudentCapacity(t *testing.T) {
	settings := DefaultSettings()
	settings.MaxStudents = 2
	s := newTestSession(settings)

	_, err := s.AddStudent("c1", "alice")
	require.NoError(t, err)
	_, err = s.AddStudent("c2", "bob")
	require.NoError(t, err)

	_, err = s.AddStudent("c3", "carol")
	require.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 2, s.RosterSize())
}

func TestRemoveStudent(t *testing.T) {
	s := newTestSession(DefaultSettings())
	_, err := s.AddStudent("c1", "alice")
	require.NoError(t, err)

	student, err := s.RemoveStudent("c1")
	require.NoError(t, err)
	assert.Equal(t, "alice", student.Name)
	assert.Equal(t, 0, s.RosterSize())

	_, err = s.RemoveStudent("c1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitAnswerErrors(t *testing.T) {
	s := newTestSession(DefaultSettings())
	_, err := s.AddStudent("c1", "alice")
	require.NoError(t, err)

	_, err = s.SubmitAnswer("ghost", "red")
	assert.ErrorIs(t, err, ErrUnknownStudent)

	_, err = s.SubmitAnswer("c1", "red")
	assert.ErrorIs(t, err, ErrNoActiveQuestion)
	assert.Empty(t, s.Tally())

	s.SetCurrentQuestion(activeQuestion())
	_, err = s.SubmitAnswer("c1", "red")
	require.NoError(t, err)

	_, err = s.SubmitAnswer("c1", "blue")
	assert.ErrorIs(t, err, ErrAlreadyAnswered)
	assert.Equal(t, map[string]int{"red": 1}, s.Tally())
}

func TestLateSubmissionMovesTally(t *testing.T) {
	settings := DefaultSettings()
	settings.AllowLateSubmissions = true
	s := newTestSession(settings)

	_, err := s.AddStudent("c1", "alice")
	require.NoError(t, err)
	s.SetCurrentQuestion(activeQuestion())

	_, err = s.SubmitAnswer("c1", "red")
	require.NoError(t, err)
	tally, err := s.SubmitAnswer("c1", "blue")
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"blue": 1}, tally)
}

// The tally must always sum to the number of answered students.
func TestTallySumInvariant(t *testing.T) {
	s := newTestSession(DefaultSettings())
	for i := 0; i < 5; i++ {
		_, err := s.AddStudent(fmt.Sprintf("c%d", i), fmt.Sprintf("student%d", i))
		require.NoError(t, err)
	}
	s.SetCurrentQuestion(activeQuestion())

	answers := []string{"red", "blue", "red"}
	for i, answer := range answers {
		_, err := s.SubmitAnswer(fmt.Sprintf("c%d", i), answer)
		require.NoError(t, err)
	}

	sum := 0
	for _, count := range s.Tally() {
		sum += count
	}
	answered := 0
	for _, student := range s.Roster() {
		if student.Answered {
			answered++
		}
	}
	assert.Equal(t, answered, sum)
	assert.Equal(t, len(answers), sum)
}

func TestSetCurrentQuestionResetsAnswers(t *testing.T) {
	s := newTestSession(DefaultSettings())
	_, err := s.AddStudent("c1", "alice")
	require.NoError(t, err)

	s.SetCurrentQuestion(activeQuestion())
	_, err = s.SubmitAnswer("c1", "red")
	require.NoError(t, err)

	s.SetCurrentQuestion(activeQuestion())
	assert.Empty(t, s.Tally())
	student := s.Roster()["c1"]
	assert.False(t, student.Answered)
	assert.Nil(t, student.Answer)
	assert.Nil(t, student.AnsweredAt)
}

func TestCompleteQuestion(t *testing.T) {
	s := newTestSession(DefaultSettings())
	_, err := s.AddStudent("c1", "alice")
	require.NoError(t, err)
	_, err = s.AddStudent("c2", "bob")
	require.NoError(t, err)

	s.SetCurrentQuestion(activeQuestion())
	_, err = s.SubmitAnswer("c1", "red")
	require.NoError(t, err)

	completed := s.CompleteQuestion()
	require.NotNil(t, completed)
	assert.Equal(t, map[string]int{"red": 1}, completed.Results)
	assert.Equal(t, 2, completed.TotalStudents)
	assert.Equal(t, 1, completed.TotalAnswered)
	assert.Len(t, s.History(), 1)
	assert.Nil(t, s.CurrentQuestion())
	assert.True(t, s.ShowResults())

	// Completing again with no active question is a no-op.
	assert.Nil(t, s.CompleteQuestion())
	assert.Len(t, s.History(), 1)
}

func TestAreAllAnswered(t *testing.T) {
	s := newTestSession(DefaultSettings())
	assert.False(t, s.AreAllAnswered(), "empty roster never counts as all answered")

	_, err := s.AddStudent("c1", "alice")
	require.NoError(t, err)
	_, err = s.AddStudent("c2", "bob")
	require.NoError(t, err)
	s.SetCurrentQuestion(activeQuestion())

	_, err = s.SubmitAnswer("c1", "red")
	require.NoError(t, err)
	assert.False(t, s.AreAllAnswered())

	_, err = s.SubmitAnswer("c2", "blue")
	require.NoError(t, err)
	assert.True(t, s.AreAllAnswered())
}

func TestResultsWithPercentages(t *testing.T) {
	s := newTestSession(DefaultSettings())

	summary := s.ResultsWithPercentages()
	assert.Zero(t, summary.TotalVotes)
	assert.Empty(t, summary.Results)

	for i := 0; i < 3; i++ {
		connID := fmt.Sprintf("c%d", i)
		_, err := s.AddStudent(connID, connID)
		require.NoError(t, err)
	}
	s.SetCurrentQuestion(activeQuestion())
	for i, answer := range []string{"red", "red", "blue"} {
		_, err := s.SubmitAnswer(fmt.Sprintf("c%d", i), answer)
		require.NoError(t, err)
	}

	summary = s.ResultsWithPercentages()
	assert.Equal(t, 3, summary.TotalVotes)
	assert.Equal(t, 67, summary.Results["red"].Percentage)
	assert.Equal(t, 33, summary.Results["blue"].Percentage)

	total := 0
	for _, result := range summary.Results {
		total += result.Percentage
	}
	assert.InDelta(t, 100, total, 1)
}

func TestChatLogBounded(t *testing.T) {
	s := newTestSession(DefaultSettings())

	_, err := s.AddChatMessage("ghost", "hello")
	assert.ErrorIs(t, err, ErrUnknownStudent)

	_, err = s.AddStudent("c1", "alice")
	require.NoError(t, err)

	for i := 0; i < chatLogCap+20; i++ {
		_, err := s.AddChatMessage("c1", fmt.Sprintf("message %d", i))
		require.NoError(t, err)
	}

	chat := s.ChatLog()
	require.Len(t, chat, chatLogCap)
	assert.Equal(t, "message 20", chat[0].Message)
	assert.Equal(t, fmt.Sprintf("message %d", chatLogCap+19), chat[len(chat)-1].Message)
}

func TestUpdateSettingsMergesPartial(t *testing.T) {
	s := newTestSession(DefaultSettings())

	allow := true
	max := 5
	settings := s.UpdateSettings(SettingsPatch{
		AllowLateSubmissions: &allow,
		MaxStudents:          &max,
	})

	assert.True(t, settings.AllowLateSubmissions)
	assert.Equal(t, 5, settings.MaxStudents)
	assert.True(t, settings.ShowLiveResults, "untouched fields keep their values")
}

func TestResetIssuesFreshSession(t *testing.T) {
	s := newTestSession(DefaultSettings())
	_, err := s.AddStudent("c1", "alice")
	require.NoError(t, err)
	s.SetCurrentQuestion(activeQuestion())
	firstID := s.Stats().SessionID

	s.Reset()

	assert.Equal(t, 0, s.RosterSize())
	assert.Nil(t, s.CurrentQuestion())
	assert.Empty(t, s.History())
	assert.NotEqual(t, firstID, s.Stats().SessionID)
}

func TestStatsAndUnanswered(t *testing.T) {
	s := newTestSession(DefaultSettings())
	_, err := s.AddStudent("c1", "alice")
	require.NoError(t, err)
	_, err = s.AddStudent("c2", "bob")
	require.NoError(t, err)
	s.SetCurrentQuestion(activeQuestion())
	_, err = s.SubmitAnswer("c1", "red")
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, 2, stats.TotalStudents)
	assert.Equal(t, 2, stats.ActiveStudents)
	assert.Equal(t, 1, stats.AnsweredCount)
	assert.True(t, stats.IsActive)
	require.NotNil(t, stats.CurrentQuestion)

	unanswered := s.UnansweredStudents()
	require.Len(t, unanswered, 1)
	assert.Equal(t, "bob", unanswered[0].Name)
}
