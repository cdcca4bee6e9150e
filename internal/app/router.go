package app

import "classroom-session-service/internal/domain"

// Transport is the real-time channel: rooms keyed by session code plus per-connection unicast.
// Implementations must not call back into the engine synchronously.
type Transport interface {
	Join(connID, room string)
	Leave(connID, room string)
	EmitRoom(room, event string, payload any)
	Emit(connID, event string, payload any)
	Disconnect(connID string)
}

type targetKind int

const (
	targetController targetKind = iota
	targetPresenters
	targetAudience
	targetOne
	targetEveryone
)

// Target selects the recipients of a broadcast within a session.
type Target struct {
	kind   targetKind
	connID string
}

var (
	ToController = Target{kind: targetController}
	ToPresenters = Target{kind: targetPresenters}
	// ToAudience reaches every connected participant, pending ones included.
	ToAudience = Target{kind: targetAudience}
	ToEveryone = Target{kind: targetEveryone}
)

// ToConn targets a single connection.
func ToConn(connID string) Target { return Target{kind: targetOne, connID: connID} }

// Router resolves role-scoped targets to transport calls.
type Router struct {
	transport Transport
}

func NewRouter(t Transport) *Router {
	return &Router{transport: t}
}

// Emit delivers event to every target in turn.
func (r *Router) Emit(s *Session, event string, payload any, targets ...Target) {
	for _, t := range targets {
		switch t.kind {
		case targetController:
			if s.controllerConn != "" {
				r.transport.Emit(s.controllerConn, event, payload)
			}
		case targetPresenters:
			for id := range s.presenters {
				r.transport.Emit(id, event, payload)
			}
		case targetAudience:
			for id, p := range s.participants {
				if p.connected {
					r.transport.Emit(id, event, payload)
				}
			}
		case targetOne:
			if t.connID != "" {
				r.transport.Emit(t.connID, event, payload)
			}
		case targetEveryone:
			r.transport.EmitRoom(s.code, event, payload)
		}
	}
}

// Staff sends to the controller and every presenter.
func (r *Router) Staff(s *Session, event string, payload any) {
	r.Emit(s, event, payload, ToController, ToPresenters)
}

// Roster pushes the participant list to the controller and presenters.
func (r *Router) Roster(s *Session) {
	r.Staff(s, domain.EventUserListUpdated, s.roster())
}

// Questions pushes the full collection, answer keys included, to the controller and presenters.
// The audience never receives answer keys; participants get a redacted currentQuestion
// from questionsChanged instead.
func (r *Router) Questions(s *Session) {
	r.Staff(s, domain.EventQuestionsUpdated, domain.QuestionsUpdated{Questions: s.questionList()})
}
