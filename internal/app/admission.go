package app

import (
	"context"
	"errors"
	"strings"

	"classroom-session-service/internal/domain"
)

type createPrep struct {
	controller string
	presenter  string
	hashed     bool
	bank       *domain.QuestionBank
	err        error
}

// CreateSession opens a session owned by nobody until a controller joins it.
func (e *Engine) CreateSession(ctx context.Context, connID string, req domain.CreateSessionRequest) (domain.CreateSessionAck, error) {
	if err := req.Validate(); err != nil {
		return domain.CreateSessionAck{}, err
	}
	return call(ctx, e, func(reply func(domain.CreateSessionAck, error)) {
		a, ok := e.conns[connID]
		if !ok {
			reply(domain.CreateSessionAck{}, domain.ErrNotAttached)
			return
		}
		origin := a.origin
		minLen := e.opts.MinSecretLength

		await(e, func() createPrep {
			if err := e.gate.CheckRate(ctx, origin); err != nil {
				return createPrep{err: err}
			}
			if err := checkSecret("controllerSecret", req.ControllerSecret, minLen); err != nil {
				return createPrep{err: err}
			}
			if err := checkSecret("presenterSecret", req.PresenterSecret, minLen); err != nil {
				return createPrep{err: err}
			}
			var p createPrep
			var err error
			if p.controller, p.hashed, err = e.gate.Seal(req.ControllerSecret); err != nil {
				return createPrep{err: err}
			}
			if p.presenter, _, err = e.gate.Seal(req.PresenterSecret); err != nil {
				return createPrep{err: err}
			}
			if req.BankID != "" {
				if e.banks == nil {
					return createPrep{err: domain.ErrBankNotFound}
				}
				bank, err := e.banks.GetBank(ctx, req.BankID)
				if err != nil {
					return createPrep{err: err}
				}
				p.bank = &bank
			}
			return p
		}, func(p createPrep) {
			if p.err != nil {
				reply(domain.CreateSessionAck{}, p.err)
				return
			}
			s, err := e.registry.create(sessionParams{
				controllerCredential: p.controller,
				presenterCredential:  p.presenter,
				hashed:               p.hashed,
				theme:                req.Theme,
				deadline:             req.Deadline,
			})
			if err != nil {
				reply(domain.CreateSessionAck{}, err)
				return
			}
			now := e.opts.Now()
			for _, d := range req.Questions {
				s.addQuestion(d, now)
			}
			if p.bank != nil {
				for i, d := range p.bank.Questions {
					d = d.Clone()
					if err := d.Normalize(); err != nil {
						e.log.Warn("skipping invalid bank question", "bank", p.bank.ID, "index", i, "error", err)
						continue
					}
					s.addQuestion(d, now)
				}
			}
			e.log.Info("session created", "session", s.code, "questions", len(s.questions), "hashed", s.hashed)

			ack := domain.CreateSessionAck{SessionCode: s.code}
			await(e, func() struct{} {
				e.gate.ResetRate(ctx, origin)
				return struct{}{}
			}, func(struct{}) { reply(ack, nil) })
		})
	})
}

type authResult struct {
	sealed string
	err    error
}

// JoinAdminSession attaches a controller or presenter. A new controller displaces the old one.
func (e *Engine) JoinAdminSession(ctx context.Context, connID string, req domain.JoinAdminRequest) (domain.AdminJoinAck, error) {
	if err := req.Validate(); err != nil {
		return domain.AdminJoinAck{}, err
	}
	return call(ctx, e, func(reply func(domain.AdminJoinAck, error)) {
		a, ok := e.conns[connID]
		if !ok {
			reply(domain.AdminJoinAck{}, domain.ErrNotAttached)
			return
		}
		s, err := e.registry.Lookup(req.SessionCode)
		if err != nil {
			reply(domain.AdminJoinAck{}, err)
			return
		}
		origin := a.origin
		stored, hashed := s.credential(req.Role), s.hashed

		await(e, func() authResult {
			if err := e.gate.CheckRate(ctx, origin); err != nil {
				return authResult{err: err}
			}
			if err := e.gate.Authenticate(stored, hashed, req.Secret); err != nil {
				return authResult{err: err}
			}
			e.gate.ResetRate(ctx, origin)
			return authResult{}
		}, func(r authResult) {
			if r.err != nil {
				if errors.Is(r.err, domain.ErrWrongPassword) {
					e.log.Warn("admin authentication failed", "session", req.SessionCode, "role", req.Role)
				}
				reply(domain.AdminJoinAck{}, r.err)
				return
			}
			s, err := e.registry.Lookup(req.SessionCode)
			if err != nil {
				reply(domain.AdminJoinAck{}, err)
				return
			}
			if _, ok := e.conns[connID]; !ok {
				reply(domain.AdminJoinAck{}, domain.ErrNotAttached)
				return
			}
			if s.credential(req.Role) != stored {
				reply(domain.AdminJoinAck{}, domain.ErrWrongPassword)
				return
			}

			e.attach(connID, s, req.Role)
			if req.Role == domain.RoleController {
				if old := s.controllerConn; old != "" && old != connID {
					e.router.Emit(s, domain.EventControllerDisplaced,
						domain.Notice{Message: "Another controller has taken over this session"}, ToConn(old))
					e.evict(old)
					e.log.Info("controller displaced", "session", s.code)
				}
				s.controllerConn = connID
			} else {
				s.presenters[connID] = struct{}{}
			}
			e.log.Info("admin joined", "session", s.code, "role", req.Role)

			roster := s.roster()
			reply(domain.AdminJoinAck{
				SessionCode:        s.code,
				Users:              roster.Users,
				TotalQuestions:     roster.TotalQuestions,
				Questions:          s.questionList(),
				Theme:              s.theme,
				Deadline:           s.deadline,
				AudienceURLVisible: s.audienceURLVisible,
				PresenterMode:      s.presenterMode,
				AudienceViews:      s.audienceViewList(),
			}, nil)
		})
	})
}

// RequestJoin admits a new participant as pending or resumes an existing identity
// when the name and secret match.
func (e *Engine) RequestJoin(ctx context.Context, connID string, req domain.JoinRequest) (domain.JoinAck, error) {
	if err := req.Validate(); err != nil {
		return domain.JoinAck{}, err
	}
	return call(ctx, e, func(reply func(domain.JoinAck, error)) {
		a, ok := e.conns[connID]
		if !ok {
			reply(domain.JoinAck{}, domain.ErrNotAttached)
			return
		}
		s, err := e.registry.Lookup(req.SessionCode)
		if err != nil {
			reply(domain.JoinAck{}, err)
			return
		}
		if p, ok := s.participants[connID]; ok && !strings.EqualFold(p.name, req.Name) {
			reply(domain.JoinAck{}, domain.ErrInvalidTransition)
			return
		}
		origin := a.origin
		existing := s.findByName(req.Name)
		hashed := s.hashed
		var stored string
		if existing != nil {
			stored = existing.credential
		}

		await(e, func() authResult {
			if err := e.gate.CheckRate(ctx, origin); err != nil {
				return authResult{err: err}
			}
			if existing != nil {
				if err := e.gate.Authenticate(stored, hashed, req.Secret); err != nil {
					return authResult{err: domain.ErrNameTaken}
				}
				e.gate.ResetRate(ctx, origin)
				return authResult{}
			}
			sealed, err := e.gate.SealAs(req.Secret, hashed)
			if err != nil {
				return authResult{err: err}
			}
			e.gate.ResetRate(ctx, origin)
			return authResult{sealed: sealed}
		}, func(r authResult) {
			if r.err != nil {
				reply(domain.JoinAck{}, r.err)
				return
			}
			s, err := e.registry.Lookup(req.SessionCode)
			if err != nil {
				reply(domain.JoinAck{}, err)
				return
			}
			if _, ok := e.conns[connID]; !ok {
				reply(domain.JoinAck{}, domain.ErrNotAttached)
				return
			}
			current := s.findByName(req.Name)
			if current != existing {
				if current != nil {
					reply(domain.JoinAck{}, domain.ErrNameTaken)
				} else {
					reply(domain.JoinAck{}, domain.ErrInvalidTransition)
				}
				return
			}
			if existing != nil {
				reply(e.resume(s, existing, connID), nil)
				return
			}

			e.attach(connID, s, domain.RoleAudience)
			p := s.addParticipant(connID, req.Name, r.sealed, e.opts.Now())
			e.log.Info("join requested", "session", s.code, "name", p.name)
			e.router.Emit(s, domain.EventUserRequestedJoin, s.view(p), ToController)
			e.router.Roster(s)
			reply(domain.JoinAck{Status: domain.StatusPending, Message: "Waiting for controller approval..."}, nil)
		})
	})
}

// resume moves an authenticated identity onto connID, displacing a still-live previous connection.
func (e *Engine) resume(s *Session, p *participant, connID string) domain.JoinAck {
	if old := p.connID; old != connID {
		if _, live := e.conns[old]; live && p.connected {
			e.router.Emit(s, domain.EventParticipantDisplaced,
				domain.Notice{Message: "You joined from another device"}, ToConn(old))
			e.evict(old)
		}
		s.rekey(p, connID)
	}
	e.attach(connID, s, domain.RoleAudience)
	p.reconnect()
	e.log.Info("participant reconnected", "session", s.code, "name", p.name, "status", p.status)

	if p.status == domain.StatusApproved {
		e.router.Emit(s, domain.EventCurrentQuestion, domain.CurrentQuestion{
			Question:       s.dueView(p),
			Progress:       s.view(p).Progress,
			TotalQuestions: len(s.questions),
		}, ToConn(connID))
	}
	e.router.Roster(s)

	msg := "Welcome back"
	if p.status == domain.StatusPending {
		msg = "Waiting for controller approval..."
	}
	return domain.JoinAck{Status: p.status, Reconnected: true, Message: msg}
}

// ApproveUser admits a pending participant and sends them their first due question.
func (e *Engine) ApproveUser(ctx context.Context, connID string, req domain.TargetRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return do(ctx, e, func() error {
		s, err := e.controller(connID, req.SessionCode)
		if err != nil {
			return err
		}
		p, ok := s.participants[req.TargetID]
		if !ok {
			return domain.ErrParticipantNotFound
		}
		if p.status != domain.StatusPending {
			return domain.ErrInvalidTransition
		}
		p.status = domain.StatusApproved
		p.resume = domain.StatusApproved
		e.log.Info("participant approved", "session", s.code, "name", p.name)

		e.router.Emit(s, domain.EventJoinApproved, domain.JoinApproved{
			FirstQuestion:  s.dueView(p),
			TotalQuestions: len(s.questions),
		}, ToConn(p.connID))
		e.router.Roster(s)
		return nil
	})
}

// RejectUser drops a pending participant.
func (e *Engine) RejectUser(ctx context.Context, connID string, req domain.TargetRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return do(ctx, e, func() error {
		s, err := e.controller(connID, req.SessionCode)
		if err != nil {
			return err
		}
		p, ok := s.participants[req.TargetID]
		if !ok {
			return domain.ErrParticipantNotFound
		}
		if p.status != domain.StatusPending {
			return domain.ErrInvalidTransition
		}
		delete(s.participants, p.connID)
		e.router.Emit(s, domain.EventJoinRejected,
			domain.Notice{Message: "Your request to join was rejected"}, ToConn(p.connID))
		e.evict(p.connID)
		e.log.Info("participant rejected", "session", s.code, "name", p.name)
		e.router.Roster(s)
		return nil
	})
}

// RemoveUser drops an approved or disconnected participant together with its progress.
func (e *Engine) RemoveUser(ctx context.Context, connID string, req domain.TargetRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return do(ctx, e, func() error {
		s, err := e.controller(connID, req.SessionCode)
		if err != nil {
			return err
		}
		p, ok := s.participants[req.TargetID]
		if !ok {
			return domain.ErrParticipantNotFound
		}
		if p.status == domain.StatusPending {
			return domain.ErrInvalidTransition
		}
		delete(s.participants, p.connID)
		if p.connected {
			e.router.Emit(s, domain.EventRemovedFromSession,
				domain.Notice{Message: "You have been removed from the session"}, ToConn(p.connID))
			e.evict(p.connID)
		}
		e.log.Info("participant removed", "session", s.code, "name", p.name)
		e.router.Roster(s)
		return nil
	})
}

// ResetUserProgress sends one participant back to the first question.
func (e *Engine) ResetUserProgress(ctx context.Context, connID string, req domain.TargetRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return do(ctx, e, func() error {
		s, err := e.controller(connID, req.SessionCode)
		if err != nil {
			return err
		}
		p, ok := s.participants[req.TargetID]
		if !ok {
			return domain.ErrParticipantNotFound
		}
		e.resetProgress(s, p)
		e.router.Roster(s)
		return nil
	})
}

// ResetAllUsersProgress sends every participant back to the first question.
func (e *Engine) ResetAllUsersProgress(ctx context.Context, connID string, req domain.SessionRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return do(ctx, e, func() error {
		s, err := e.controller(connID, req.SessionCode)
		if err != nil {
			return err
		}
		for _, p := range s.participants {
			e.resetProgress(s, p)
		}
		e.log.Info("progress reset", "session", s.code, "participants", len(s.participants))
		e.router.Roster(s)
		return nil
	})
}

func (e *Engine) resetProgress(s *Session, p *participant) {
	p.resetProgress()
	if p.active() {
		e.router.Emit(s, domain.EventCurrentQuestion, domain.CurrentQuestion{
			Question:       s.dueView(p),
			Progress:       0,
			TotalQuestions: len(s.questions),
		}, ToConn(p.connID))
	}
}
