package app

import (
	"context"
	"errors"

	"classroom-session-service/internal/domain"
)

// CreateQuestion appends a question under the next unused id.
func (e *Engine) CreateQuestion(ctx context.Context, connID string, req domain.CreateQuestionRequest) (domain.QuestionAck, error) {
	if err := req.Validate(); err != nil {
		return domain.QuestionAck{}, err
	}
	return call(ctx, e, func(reply func(domain.QuestionAck, error)) {
		s, err := e.controller(connID, req.SessionCode)
		if err != nil {
			reply(domain.QuestionAck{}, err)
			return
		}
		before := s.dueIDs()
		q := s.addQuestion(req.Question, e.opts.Now())
		e.log.Debug("question created", "session", s.code, "question", q.ID)
		e.questionsChanged(s, before, noQuestion)
		reply(domain.QuestionAck{QuestionID: q.ID}, nil)
	})
}

// EditQuestion replaces the fields present in the patch. The id never changes.
func (e *Engine) EditQuestion(ctx context.Context, connID string, req domain.EditQuestionRequest) (domain.QuestionAck, error) {
	if err := req.Validate(); err != nil {
		return domain.QuestionAck{}, err
	}
	return call(ctx, e, func(reply func(domain.QuestionAck, error)) {
		s, err := e.controller(connID, req.SessionCode)
		if err != nil {
			reply(domain.QuestionAck{}, err)
			return
		}
		before := s.dueIDs()
		q, err := s.editQuestion(req.QuestionID.Value, req.Patch)
		if err != nil {
			reply(domain.QuestionAck{}, err)
			return
		}
		e.log.Debug("question edited", "session", s.code, "question", q.ID)
		e.questionsChanged(s, before, q.ID)
		reply(domain.QuestionAck{QuestionID: q.ID}, nil)
	})
}

// DeleteQuestion removes a question by id. Stored progress counts are left untouched.
func (e *Engine) DeleteQuestion(ctx context.Context, connID string, req domain.DeleteQuestionRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return do(ctx, e, func() error {
		s, err := e.controller(connID, req.SessionCode)
		if err != nil {
			return err
		}
		before := s.dueIDs()
		if err := s.deleteQuestion(req.QuestionID.Value); err != nil {
			return err
		}
		e.log.Debug("question deleted", "session", s.code, "question", req.QuestionID.Value)
		e.questionsChanged(s, before, noQuestion)
		return nil
	})
}

// ReorderQuestions applies a client-supplied order after dropping ids that no longer exist.
func (e *Engine) ReorderQuestions(ctx context.Context, connID string, req domain.ReorderQuestionsRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return do(ctx, e, func() error {
		s, err := e.controller(connID, req.SessionCode)
		if err != nil {
			return err
		}
		before := s.dueIDs()
		s.reorderQuestions(req.QuestionIDs)
		e.questionsChanged(s, before, noQuestion)
		return nil
	})
}

// questionsChanged broadcasts the collection and the roster, then tells each active
// participant whose due question moved (or was the edited one) what they are on now.
func (e *Engine) questionsChanged(s *Session, before map[string]int, touched int) {
	e.router.Questions(s)
	e.router.Roster(s)
	for id, p := range s.participants {
		if !p.active() {
			continue
		}
		now := noQuestion
		if q := s.dueQuestion(p); q != nil {
			now = q.ID
		}
		prev, seen := before[id]
		if seen && prev == now && (touched == noQuestion || now != touched) {
			continue
		}
		e.router.Emit(s, domain.EventCurrentQuestion, domain.CurrentQuestion{
			Question:       s.dueView(p),
			Progress:       s.view(p).Progress,
			TotalQuestions: len(s.questions),
		}, ToConn(id))
	}
}

// SubmitAnswer evaluates an answer to the participant's due question. Submissions from unknown or
// unapproved connections and answers to a question that is no longer due are ignored.
func (e *Engine) SubmitAnswer(ctx context.Context, connID string, req domain.SubmitAnswerRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return do(ctx, e, func() error {
		s, err := e.authorize(connID, req.SessionCode, domain.RoleAudience)
		if err != nil {
			return nil
		}
		p, ok := s.participants[connID]
		if !ok || p.status != domain.StatusApproved {
			return nil
		}
		q := s.dueQuestion(p)
		if q == nil || q.ID != req.QuestionID.Value {
			e.log.Debug("stale answer ignored", "session", s.code, "name", p.name, "question", req.QuestionID.Value)
			return nil
		}

		v, err := evaluate(*q, req.Answer, p.attempts[q.ID])
		if errors.Is(err, domain.ErrSkipNotAllowed) {
			return err
		}
		if !v.correct {
			p.attempts[q.ID] = v.attempts
			e.router.Emit(s, domain.EventAnswerResult, domain.AnswerResult{
				QuestionID:     q.ID,
				Progress:       p.progress,
				TotalQuestions: len(s.questions),
				Attempts:       v.attempts,
				CanSkip:        v.canSkip,
			}, ToConn(connID))
			return nil
		}

		p.progress++
		delete(p.attempts, q.ID)
		e.router.Emit(s, domain.EventAnswerResult, domain.AnswerResult{
			QuestionID:     q.ID,
			Correct:        true,
			Skipped:        v.skipped,
			NextQuestion:   s.dueView(p),
			Progress:       s.view(p).Progress,
			TotalQuestions: len(s.questions),
		}, ToConn(connID))
		e.router.Roster(s)
		return nil
	})
}
