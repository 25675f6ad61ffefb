package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/harry-urek/Live-Poll/internal/poll"
	"github.com/harry-urek/Live-Poll/internal/timer"
)

// Phase is the question lifecycle state.
type Phase string

const (
	PhaseIdle           Phase = "IDLE"
	PhaseQuestionActive Phase = "QUESTION_ACTIVE"
	PhaseResultsShown   Phase = "RESULTS_SHOWN"
)

// DefaultGraceDelay is how long completed results stay on screen before the
// waiting notification returns everyone to idle.
const DefaultGraceDelay = 3 * time.Second

const (
	minOptions = 2
	maxOptions = 6
)

// Broadcaster fans outbound events to connections. BroadcastAll reaches
// every connection; SendTo reaches exactly one.
type Broadcaster interface {
	BroadcastAll(event *Event)
	SendTo(connID string, event *Event)
}

// Router is the question lifecycle state machine. It holds no domain state
// of its own: every inbound action is validated, applied to the session
// store, and answered with broadcasts. A single mutex serializes all
// handlers and timer callbacks, so each event runs to completion before the
// next. Broadcasts observed by any connection reflect one globally ordered
// sequence of transitions.
type Router struct {
	session     *poll.Session
	timers      *timer.Coordinator
	broadcaster Broadcaster
	clock       clockwork.Clock
	graceDelay  time.Duration

	mu          sync.Mutex
	phase       Phase
	timerHandle timer.Handle
	timerEpoch  uint64
	graceTimer  clockwork.Timer
}

// NewRouter wires the state machine to its collaborators.
func NewRouter(session *poll.Session, timers *timer.Coordinator, broadcaster Broadcaster, clock clockwork.Clock) *Router {
	r := &Router{
		session:     session,
		timers:      timers,
		broadcaster: broadcaster,
		clock:       clock,
		graceDelay:  DefaultGraceDelay,
		phase:       PhaseIdle,
	}
	return r
}

// SetGraceDelay overrides the post-completion delay. Must be called before
// the router handles events.
func (r *Router) SetGraceDelay(d time.Duration) {
	r.graceDelay = d
}

// Phase returns the current lifecycle phase.
func (r *Router) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Dispatch routes one raw inbound client message to its handler. Malformed
// payloads are dropped at this protocol boundary.
func (r *Router) Dispatch(connID string, raw []byte) {
	var action Action
	if err := json.Unmarshal(raw, &action); err != nil {
		log.Warn().Err(err).Str("conn_id", connID).Msg("dropping malformed action envelope")
		return
	}

	switch action.Type {
	case ActionJoin:
		var payload JoinAction
		if err := json.Unmarshal(action.Data, &payload); err != nil {
			log.Warn().Err(err).Str("conn_id", connID).Msg("dropping malformed join payload")
			return
		}
		r.Join(connID, payload.Name)

	case ActionSubmitAnswer:
		var payload SubmitAnswerAction
		if err := json.Unmarshal(action.Data, &payload); err != nil {
			log.Warn().Err(err).Str("conn_id", connID).Msg("dropping malformed answer payload")
			return
		}
		r.SubmitAnswer(connID, payload.Answer)

	case ActionAskQuestion:
		var payload AskQuestionAction
		if err := json.Unmarshal(action.Data, &payload); err != nil {
			log.Warn().Err(err).Str("conn_id", connID).Msg("dropping malformed question payload")
			return
		}
		r.AskQuestion(payload)

	case ActionNextQuestion:
		r.NextQuestion()

	case ActionExtendTime:
		var payload ExtendTimeAction
		if err := json.Unmarshal(action.Data, &payload); err != nil {
			log.Warn().Err(err).Str("conn_id", connID).Msg("dropping malformed extend payload")
			return
		}
		r.ExtendTime(payload.ExtraSec)

	case ActionViewResults:
		r.ViewResults(connID)

	case ActionKickStudent:
		var payload KickStudentAction
		if err := json.Unmarshal(action.Data, &payload); err != nil {
			log.Warn().Err(err).Str("conn_id", connID).Msg("dropping malformed kick payload")
			return
		}
		r.KickStudent(payload.ConnID)

	case ActionChatSend:
		var payload ChatSendAction
		if err := json.Unmarshal(action.Data, &payload); err != nil {
			log.Warn().Err(err).Str("conn_id", connID).Msg("dropping malformed chat payload")
			return
		}
		r.ChatSend(connID, payload.Message)

	default:
		log.Warn().Str("conn_id", connID).Str("action", string(action.Type)).Msg("dropping unknown action")
	}
}

// Join adds a student to the roster, acks the joiner, replays the active
// question or last results to them, and broadcasts the refreshed roster.
func (r *Router) Join(connID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	student, err := r.session.AddStudent(connID, name)
	if err != nil {
		log.Warn().Err(err).Str("conn_id", connID).Str("name", name).Msg("join rejected")
		return
	}

	r.sendTo(connID, EventJoined, JoinedPayload{
		Name:      student.Name,
		SessionID: r.session.Stats().SessionID,
	})

	if q := r.session.CurrentQuestion(); q != nil {
		r.sendTo(connID, EventNewQuestion, q)
		if r.timerHandle != "" {
			r.sendTo(connID, EventTimeUpdate, TimeUpdatePayload{RemainingSec: r.timers.Remaining(r.timerHandle)})
		}
	} else if r.session.ShowResults() {
		r.sendTo(connID, EventShowResults, UpdateResultsPayload{Results: r.session.Tally()})
	}

	r.broadcastRoster()
}

// SubmitAnswer applies a student's answer. Only valid while a question is
// active; all store-level failures drop the action. A fully answered roster
// short-circuits the timer and completes the round immediately.
func (r *Router) SubmitAnswer(connID, answer string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseQuestionActive {
		log.Debug().Str("conn_id", connID).Str("phase", string(r.phase)).Msg("dropping answer outside active question")
		return
	}

	tally, err := r.session.SubmitAnswer(connID, answer)
	if err != nil {
		if errors.Is(err, poll.ErrUnknownStudent) || errors.Is(err, poll.ErrNoActiveQuestion) || errors.Is(err, poll.ErrAlreadyAnswered) {
			log.Debug().Err(err).Str("conn_id", connID).Msg("dropping answer")
			return
		}
		log.Error().Err(err).Str("conn_id", connID).Msg("answer submission failed")
		return
	}

	r.broadcast(EventUpdateResults, UpdateResultsPayload{Results: tally})
	r.broadcastRoster()

	if r.session.AreAllAnswered() {
		log.Info().Msg("all students answered, completing round early")
		r.completeRoundLocked()
	}
}

// AskQuestion starts a new round: any running countdown is stopped, a still
// active question is folded into history, the question is installed and the
// countdown begins. Option and time-limit bounds are enforced here at the
// protocol boundary.
func (r *Router) AskQuestion(action AskQuestionAction) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(action.Options) < minOptions || len(action.Options) > maxOptions {
		log.Warn().Int("options", len(action.Options)).Msg("dropping question with invalid option count")
		return
	}
	if action.TimeLimitSec <= 0 {
		log.Warn().Int("time_limit_sec", action.TimeLimitSec).Msg("dropping question with invalid time limit")
		return
	}

	r.cancelGraceLocked()
	r.stopTimerLocked()
	if r.phase == PhaseQuestionActive {
		// Teacher moved on mid-round: record the interrupted round anyway so
		// history stays consistent with natural completion.
		r.session.CompleteQuestion()
	}

	question := poll.Question{
		ID:               "q_" + uuid.NewString(),
		Text:             action.Text,
		Options:          action.Options,
		CorrectAnswerIdx: action.CorrectAnswerIdx,
		TimeLimitSec:     action.TimeLimitSec,
		CreatedAt:        r.clock.Now(),
	}
	r.session.SetCurrentQuestion(question)
	r.phase = PhaseQuestionActive

	r.broadcast(EventNewQuestion, question)

	r.timerEpoch++
	epoch := r.timerEpoch
	r.timerHandle = r.timers.Start(question.TimeLimitSec,
		func(remaining int) { r.handleTick(epoch, remaining) },
		func() { r.handleTimerExpired(epoch) },
	)
}

// NextQuestion is the teacher-initiated advance back to idle. An
// interrupted round is completed into history first, mirroring AskQuestion.
func (r *Router) NextQuestion() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase == PhaseIdle {
		return
	}

	r.cancelGraceLocked()
	r.stopTimerLocked()
	if r.phase == PhaseQuestionActive {
		r.session.CompleteQuestion()
	}
	r.session.ClearCurrentQuestion()
	r.phase = PhaseIdle

	r.broadcast(EventWaitingForQuestion, nil)
	log.Info().Msg("students waiting for next question")
}

// ExtendTime adds seconds to the running countdown and immediately
// broadcasts the corrected remaining time.
func (r *Router) ExtendTime(extraSec int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseQuestionActive || r.timerHandle == "" || extraSec <= 0 {
		return
	}
	if !r.timers.Extend(r.timerHandle, extraSec) {
		return
	}
	r.broadcast(EventTimeUpdate, TimeUpdatePayload{RemainingSec: r.timers.Remaining(r.timerHandle)})
}

// ViewResults sends the requester a directed snapshot of the last completed
// round. Dropped when no round has completed yet.
func (r *Router) ViewResults(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	last := r.session.LastCompleted()
	if last == nil {
		log.Debug().Str("conn_id", connID).Msg("no completed question to view")
		return
	}
	r.sendTo(connID, EventTeacherResults, TeacherResultsPayload{
		Question:      last,
		Results:       last.Results,
		StudentCount:  r.session.RosterSize(),
		AnsweredCount: last.TotalAnswered,
	})
}

// KickStudent removes a student, notifies that connection directly, then
// broadcasts the refreshed roster. Removing the last unanswered student
// triggers the all-answered fast path.
func (r *Router) KickStudent(targetID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	student, err := r.session.RemoveStudent(targetID)
	if err != nil {
		log.Debug().Str("conn_id", targetID).Msg("kick target not in roster")
		return
	}
	log.Info().Str("conn_id", targetID).Str("name", student.Name).Msg("student kicked")

	r.sendTo(targetID, EventKicked, KickedPayload{Reason: "removed by teacher"})
	r.broadcastRoster()

	if r.phase == PhaseQuestionActive && r.session.AreAllAnswered() {
		r.completeRoundLocked()
	}
}

// ChatSend appends and broadcasts a chat message from a known student.
func (r *Router) ChatSend(connID, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.session.AddChatMessage(connID, message)
	if err != nil {
		log.Debug().Err(err).Str("conn_id", connID).Msg("dropping chat message")
		return
	}
	r.broadcast(EventChatMessage, entry)
}

// Disconnect is the transport-level removal path. Silent roster removal;
// absent students no longer block the round.
func (r *Router) Disconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	student, err := r.session.RemoveStudent(connID)
	if err != nil {
		return
	}
	log.Info().Str("conn_id", connID).Str("name", student.Name).Msg("student disconnected")

	r.broadcastRoster()

	if r.phase == PhaseQuestionActive && r.session.AreAllAnswered() {
		r.completeRoundLocked()
	}
}

// Reset is the administrative reset: timer and grace cancelled, store wiped,
// everyone sent back to waiting.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelGraceLocked()
	r.stopTimerLocked()
	r.session.Reset()
	r.phase = PhaseIdle
	r.broadcast(EventWaitingForQuestion, nil)
}

// Shutdown stops any pending timers without broadcasting.
func (r *Router) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelGraceLocked()
	r.stopTimerLocked()
}

// handleTick runs on the countdown goroutine once per second.
func (r *Router) handleTick(epoch uint64, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if epoch != r.timerEpoch || r.phase != PhaseQuestionActive {
		return
	}
	if remaining > 0 {
		r.broadcast(EventTimeUpdate, TimeUpdatePayload{RemainingSec: remaining})
	}
}

// handleTimerExpired runs once when the countdown reaches zero. "Timer
// fired" and "all answered" converge on the same completion transition.
func (r *Router) handleTimerExpired(epoch uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if epoch != r.timerEpoch || r.phase != PhaseQuestionActive {
		return
	}
	log.Info().Msg("question timer expired")
	r.completeRoundLocked()
}

// completeRoundLocked is the single completion transition: stop the timer,
// freeze the tally into history, broadcast results, and schedule the grace
// delay back to idle. Caller holds the router lock.
func (r *Router) completeRoundLocked() {
	r.stopTimerLocked()

	completed := r.session.CompleteQuestion()
	if completed == nil {
		r.phase = PhaseIdle
		return
	}
	r.phase = PhaseResultsShown

	r.broadcast(EventComplete, CompletePayload{
		Question: completed.Question,
		Results:  completed.Results,
	})
	r.broadcast(EventTeacherResults, TeacherResultsPayload{
		Question:      completed,
		Results:       completed.Results,
		StudentCount:  completed.TotalStudents,
		AnsweredCount: completed.TotalAnswered,
	})

	r.graceTimer = r.clock.AfterFunc(r.graceDelay, r.handleGraceExpired)
}

// handleGraceExpired returns the session to idle after results have been on
// screen for the grace delay.
func (r *Router) handleGraceExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseResultsShown {
		return
	}
	r.session.ClearCurrentQuestion()
	r.phase = PhaseIdle
	r.broadcast(EventWaitingForQuestion, nil)
}

func (r *Router) stopTimerLocked() {
	if r.timerHandle != "" {
		r.timers.Stop(r.timerHandle)
		r.timerHandle = ""
	}
	r.timerEpoch++
}

func (r *Router) cancelGraceLocked() {
	if r.graceTimer != nil {
		r.graceTimer.Stop()
		r.graceTimer = nil
	}
}

func (r *Router) broadcastRoster() {
	roster := r.session.Roster()
	entries := make(map[string]RosterEntry, len(roster))
	for id, student := range roster {
		entries[id] = RosterEntry{
			ID:       student.ID,
			Name:     student.Name,
			Answered: student.Answered,
		}
	}
	r.broadcast(EventStudentList, StudentListPayload{Students: entries})
}

func (r *Router) broadcast(eventType EventType, payload any) {
	if event := newEvent(r.clock.Now(), eventType, payload); event != nil {
		r.broadcaster.BroadcastAll(event)
	}
}

func (r *Router) sendTo(connID string, eventType EventType, payload any) {
	if event := newEvent(r.clock.Now(), eventType, payload); event != nil {
		r.broadcaster.SendTo(connID, event)
	}
}
