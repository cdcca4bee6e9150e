package app

import (
	"sort"
	"strings"
	"time"

	"classroom-session-service/internal/domain"
)

// Session is the record of one live classroom session. It is owned by the engine loop.
type Session struct {
	code      string
	createdAt time.Time

	controllerCredential string
	presenterCredential  string
	hashed               bool

	controllerConn string
	presenters     map[string]struct{}

	questions      []domain.Question
	nextQuestionID int

	participants map[string]*participant
	joinSeq      int

	theme              string
	deadline           *time.Time
	audienceURLVisible bool
	presenterMode      domain.PresenterMode
	audienceViews      []string
}

type participant struct {
	connID     string
	name       string
	credential string
	status     domain.ParticipantStatus
	// resume is the status restored on reconnection; it is never StatusDisconnected.
	resume    domain.ParticipantStatus
	connected bool
	progress  int
	attempts  map[int]int
	joinedAt  time.Time
	seq       int
}

func newSession(code string, now time.Time) *Session {
	return &Session{
		code:           code,
		createdAt:      now,
		presenters:     make(map[string]struct{}),
		nextQuestionID: 1,
		participants:   make(map[string]*participant),
		presenterMode:  domain.PresenterMode{Mode: "leaderboard", ChartType: "bar"},
	}
}

// Code returns the public session code.
func (s *Session) Code() string { return s.code }

func (s *Session) credential(role domain.Role) string {
	if role == domain.RoleController {
		return s.controllerCredential
	}
	return s.presenterCredential
}

func (s *Session) setCredential(role domain.Role, stored string) {
	if role == domain.RoleController {
		s.controllerCredential = stored
		return
	}
	s.presenterCredential = stored
}

// Questions.

func (s *Session) questionIndex(id int) int {
	for i := range s.questions {
		if s.questions[i].ID == id {
			return i
		}
	}
	return -1
}

// questionList returns a copy of the collection safe to hand to the transport.
func (s *Session) questionList() []domain.Question {
	out := make([]domain.Question, len(s.questions))
	copy(out, s.questions)
	return out
}

func (s *Session) audienceViewList() []string {
	out := make([]string, len(s.audienceViews))
	copy(out, s.audienceViews)
	return out
}

// addQuestion appends a normalized draft under a fresh id.
func (s *Session) addQuestion(d domain.QuestionDraft, now time.Time) domain.Question {
	q := domain.Question{ID: s.nextQuestionID, QuestionDraft: d.Clone(), CreatedAt: now}
	s.nextQuestionID++
	s.questions = append(s.questions, q)
	return q
}

func (s *Session) editQuestion(id int, patch domain.QuestionPatch) (domain.Question, error) {
	idx := s.questionIndex(id)
	if idx < 0 {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	draft := patch.Apply(s.questions[idx].QuestionDraft)
	if err := draft.Normalize(); err != nil {
		return domain.Question{}, err
	}
	q := s.questions[idx]
	q.QuestionDraft = draft
	updated := make([]domain.Question, len(s.questions))
	copy(updated, s.questions)
	updated[idx] = q
	s.questions = updated
	return q, nil
}

func (s *Session) deleteQuestion(id int) error {
	idx := s.questionIndex(id)
	if idx < 0 {
		return domain.ErrQuestionNotFound
	}
	updated := make([]domain.Question, 0, len(s.questions)-1)
	updated = append(updated, s.questions[:idx]...)
	updated = append(updated, s.questions[idx+1:]...)
	s.questions = updated
	for _, p := range s.participants {
		delete(p.attempts, id)
	}
	return nil
}

// reorderQuestions applies the requested order. Unknown and repeated ids are ignored;
// questions the request omits keep their relative order after the listed ones.
func (s *Session) reorderQuestions(ids []int) {
	placed := make(map[int]bool, len(s.questions))
	updated := make([]domain.Question, 0, len(s.questions))
	for _, id := range ids {
		if placed[id] {
			continue
		}
		if idx := s.questionIndex(id); idx >= 0 {
			placed[id] = true
			updated = append(updated, s.questions[idx])
		}
	}
	for _, q := range s.questions {
		if !placed[q.ID] {
			updated = append(updated, q)
		}
	}
	s.questions = updated
}

// dueQuestion is the question at the participant's progress, or nil when they are done.
func (s *Session) dueQuestion(p *participant) *domain.Question {
	if p.progress < 0 || p.progress >= len(s.questions) {
		return nil
	}
	q := s.questions[p.progress]
	return &q
}

func (s *Session) dueView(p *participant) *domain.QuestionView {
	q := s.dueQuestion(p)
	if q == nil {
		return nil
	}
	v := q.View()
	return &v
}

// Participants.

// findByName matches display names case-insensitively; the first spelling is kept.
func (s *Session) findByName(name string) *participant {
	for _, p := range s.participants {
		if strings.EqualFold(p.name, name) {
			return p
		}
	}
	return nil
}

func (s *Session) addParticipant(connID, name, credential string, now time.Time) *participant {
	s.joinSeq++
	p := &participant{
		connID:     connID,
		name:       name,
		credential: credential,
		status:     domain.StatusPending,
		resume:     domain.StatusPending,
		connected:  true,
		attempts:   make(map[int]int),
		joinedAt:   now,
		seq:        s.joinSeq,
	}
	s.participants[connID] = p
	return p
}

// rekey moves a participant under a new connection id.
func (s *Session) rekey(p *participant, connID string) {
	delete(s.participants, p.connID)
	p.connID = connID
	s.participants[connID] = p
}

func (p *participant) markDisconnected() {
	if !p.connected {
		return
	}
	p.connected = false
	p.status = domain.StatusDisconnected
}

func (p *participant) reconnect() {
	p.connected = true
	p.status = p.resume
}

func (p *participant) resetProgress() {
	p.progress = 0
	p.attempts = make(map[int]int)
}

// active reports whether the participant should receive question traffic.
func (p *participant) active() bool {
	return p.connected && p.status == domain.StatusApproved
}

func (s *Session) view(p *participant) domain.ParticipantView {
	progress := p.progress
	if progress > len(s.questions) {
		progress = len(s.questions)
	}
	return domain.ParticipantView{
		ID:       p.connID,
		Name:     p.name,
		Status:   p.status,
		Progress: progress,
		JoinedAt: p.joinedAt,
	}
}

// roster lists participants in join order.
func (s *Session) roster() domain.Roster {
	list := make([]*participant, 0, len(s.participants))
	for _, p := range s.participants {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	users := make([]domain.ParticipantView, 0, len(list))
	for _, p := range list {
		users = append(users, s.view(p))
	}
	return domain.Roster{Users: users, TotalQuestions: len(s.questions)}
}

func (s *Session) snapshot() domain.SessionSnapshot {
	return domain.SessionSnapshot{
		Code:               s.code,
		Theme:              s.theme,
		Deadline:           s.deadline,
		AudienceURLVisible: s.audienceURLVisible,
		PresenterMode:      s.presenterMode,
		AudienceViews:      s.audienceViewList(),
		CreatedAt:          s.createdAt,
		Questions:          s.questionList(),
		Participants:       s.roster().Users,
		ControllerOnline:   s.controllerConn != "",
		Presenters:         len(s.presenters),
	}
}

// dueIDs records which question each active participant is on.
func (s *Session) dueIDs() map[string]int {
	out := make(map[string]int, len(s.participants))
	for id, p := range s.participants {
		if !p.active() {
			continue
		}
		out[id] = noQuestion
		if q := s.dueQuestion(p); q != nil {
			out[id] = q.ID
		}
	}
	return out
}

const noQuestion = -1
