package app

import (
	"context"

	"classroom-session-service/internal/domain"
)

func (e *Engine) ChangeTheme(ctx context.Context, connID string, req domain.ThemeRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return do(ctx, e, func() error {
		s, err := e.controller(connID, req.SessionCode)
		if err != nil {
			return err
		}
		s.theme = req.Theme
		e.router.Emit(s, domain.EventThemeChanged, domain.ThemeChanged{Theme: s.theme}, ToEveryone)
		return nil
	})
}

func (e *Engine) ToggleAudienceURL(ctx context.Context, connID string, req domain.AudienceURLRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return do(ctx, e, func() error {
		s, err := e.controller(connID, req.SessionCode)
		if err != nil {
			return err
		}
		s.audienceURLVisible = req.Visible
		e.router.Emit(s, domain.EventAudienceURLChanged, domain.AudienceURLChanged{Visible: req.Visible}, ToEveryone)
		return nil
	})
}

// ChangePresenterMode updates what presenters display; participants are not told.
func (e *Engine) ChangePresenterMode(ctx context.Context, connID string, req domain.PresenterModeRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return do(ctx, e, func() error {
		s, err := e.controller(connID, req.SessionCode)
		if err != nil {
			return err
		}
		s.presenterMode = req.PresenterMode
		e.router.Staff(s, domain.EventPresenterModeChanged, s.presenterMode)
		return nil
	})
}

func (e *Engine) ChangeAudienceView(ctx context.Context, connID string, req domain.AudienceViewRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return do(ctx, e, func() error {
		s, err := e.controller(connID, req.SessionCode)
		if err != nil {
			return err
		}
		s.audienceViews = append([]string(nil), req.AllowedViews...)
		e.router.Emit(s, domain.EventAudienceViewChanged,
			domain.AudienceViewChanged{AllowedViews: s.audienceViewList()}, ToEveryone)
		return nil
	})
}

// ChangeDeadline sets or clears the advisory deadline shown to every client.
func (e *Engine) ChangeDeadline(ctx context.Context, connID string, req domain.DeadlineRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return do(ctx, e, func() error {
		s, err := e.controller(connID, req.SessionCode)
		if err != nil {
			return err
		}
		s.deadline = req.Deadline
		e.router.Emit(s, domain.EventDeadlineChanged, domain.DeadlineChanged{Deadline: s.deadline}, ToEveryone)
		return nil
	})
}

// ChangePassword replaces a role credential. Connections already attached keep their role.
func (e *Engine) ChangePassword(ctx context.Context, connID string, req domain.PasswordRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return doAsync(ctx, e, func(reply func(error)) {
		s, err := e.controller(connID, req.SessionCode)
		if err != nil {
			reply(err)
			return
		}
		if err := checkSecret("secret", req.Secret, e.opts.MinSecretLength); err != nil {
			reply(err)
			return
		}
		hashed := s.hashed
		await(e, func() authResult {
			sealed, err := e.gate.SealAs(req.Secret, hashed)
			return authResult{sealed: sealed, err: err}
		}, func(r authResult) {
			if r.err != nil {
				reply(r.err)
				return
			}
			s, err := e.controller(connID, req.SessionCode)
			if err != nil {
				reply(err)
				return
			}
			s.setCredential(req.Role, r.sealed)
			e.log.Info("role password changed", "session", s.code, "role", req.Role)
			e.router.Emit(s, domain.EventPasswordChanged, domain.PasswordChanged{Role: req.Role}, ToController)
			reply(nil)
		})
	})
}

// EndSession closes the session for everyone.
func (e *Engine) EndSession(ctx context.Context, connID string, req domain.SessionRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return do(ctx, e, func() error {
		s, err := e.controller(connID, req.SessionCode)
		if err != nil {
			return err
		}
		e.log.Info("session ended by controller", "session", s.code)
		e.endSession(s, "The session has been ended by the controller")
		return nil
	})
}

// doAsync is do for handlers that reply from an awaited continuation.
func doAsync(ctx context.Context, e *Engine, fn func(reply func(error))) error {
	_, err := call(ctx, e, func(reply func(struct{}, error)) {
		fn(func(err error) { reply(struct{}{}, err) })
	})
	return err
}
