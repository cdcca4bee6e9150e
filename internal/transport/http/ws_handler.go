package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"classroom-session-service/internal/app"
	"classroom-session-service/internal/auth"
	"classroom-session-service/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type WSOptions struct {
	// AllowedOrigins restricts the Origin header; empty allows any origin.
	AllowedOrigins []string
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

type WSHandler struct {
	engine   *app.Engine
	hub      *Hub
	tokens   *auth.TokenManager
	upgrader websocket.Upgrader
	handlers map[string]handlerFunc
	timeout  time.Duration
	log      *slog.Logger
}

type handlerFunc func(ctx context.Context, connID string, payload json.RawMessage) (any, error)

func NewWSHandler(engine *app.Engine, hub *Hub, tokens *auth.TokenManager, opts WSOptions) *WSHandler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	h := &WSHandler{
		engine:  engine,
		hub:     hub,
		tokens:  tokens,
		timeout: timeout,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
	}
	h.handlers = h.routes()
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin] || set["*"]
	}
}

// routes maps every inbound event to exactly one engine operation.
func (h *WSHandler) routes() map[string]handlerFunc {
	e := h.engine
	return map[string]handlerFunc{
		domain.EventCreateSession:         handle(e.CreateSession),
		domain.EventJoinAdminSession:      handle(h.joinAdmin),
		domain.EventRequestJoin:           handle(e.RequestJoin),
		domain.EventApproveUser:           handleErr(e.ApproveUser),
		domain.EventRejectUser:            handleErr(e.RejectUser),
		domain.EventRemoveUser:            handleErr(e.RemoveUser),
		domain.EventResetUserProgress:     handleErr(e.ResetUserProgress),
		domain.EventResetAllUsersProgress: handleErr(e.ResetAllUsersProgress),
		domain.EventCreateQuestion:        handle(e.CreateQuestion),
		domain.EventEditQuestion:          handle(e.EditQuestion),
		domain.EventDeleteQuestion:        handleErr(e.DeleteQuestion),
		domain.EventReorderQuestions:      handleErr(e.ReorderQuestions),
		domain.EventSubmitAnswer:          handleErr(e.SubmitAnswer),
		domain.EventChangeTheme:           handleErr(e.ChangeTheme),
		domain.EventToggleAudienceURL:     handleErr(e.ToggleAudienceURL),
		domain.EventChangePresenterMode:   handleErr(e.ChangePresenterMode),
		domain.EventChangeAudienceView:    handleErr(e.ChangeAudienceView),
		domain.EventChangeDeadline:        handleErr(e.ChangeDeadline),
		domain.EventChangePassword:        handleErr(e.ChangePassword),
		domain.EventEndSession:            handleErr(e.EndSession),
	}
}

// joinAdmin adds an export token to a successful admin join.
func (h *WSHandler) joinAdmin(ctx context.Context, connID string, req domain.JoinAdminRequest) (domain.AdminJoinAck, error) {
	ack, err := h.engine.JoinAdminSession(ctx, connID, req)
	if err != nil || h.tokens == nil {
		return ack, err
	}
	token, err := h.tokens.Issue(ack.SessionCode, req.Role)
	if err != nil {
		h.log.Error("issue export token", "session", ack.SessionCode, "error", err)
		return ack, nil
	}
	ack.ExportToken = token
	return ack, nil
}

func handle[Req any, Resp any](fn func(context.Context, string, Req) (Resp, error)) handlerFunc {
	return func(ctx context.Context, connID string, payload json.RawMessage) (any, error) {
		var req Req
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return fn(ctx, connID, req)
	}
}

func handleErr[Req any](fn func(context.Context, string, Req) error) handlerFunc {
	return func(ctx context.Context, connID string, payload json.RawMessage) (any, error) {
		var req Req
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return nil, fn(ctx, connID, req)
	}
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		var fe *domain.FieldError
		if errors.As(err, &fe) {
			return fe
		}
		return domain.Invalid("payload", "malformed payload")
	}
	return nil
}

type inboundMessage struct {
	Type    string          `json:"type"`
	ID      json.RawMessage `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

type ackError struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Kind    domain.Kind `json:"kind"`
	Field   string      `json:"field,omitempty"`
}

// ServeWS upgrades the request and pumps frames between the socket and the engine.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}

	c := newClient(uuid.NewString(), conn)
	h.hub.register(c)
	go c.writeLoop(h.log)

	if err := h.engine.Connect(r.Context(), c.id, clientOrigin(r)); err != nil {
		h.log.Error("register connection", "conn", c.id, "error", err)
		h.hub.unregister(c.id)
		c.close()
		return
	}
	h.log.Debug("ws connected", "conn", c.id, "origin", clientOrigin(r))

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		if err := h.engine.Disconnect(ctx, c.id); err != nil {
			h.log.Warn("release connection", "conn", c.id, "error", err)
		}
		h.hub.unregister(c.id)
		c.close()
		h.log.Debug("ws disconnected", "conn", c.id)
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				h.hub.Emit(c.id, "error", domain.Notice{Message: "invalid frame"})
				continue
			}
			return
		}
		h.dispatch(r.Context(), c.id, inbound)
	}
}

func (h *WSHandler) dispatch(parent context.Context, connID string, in inboundMessage) {
	ctx, cancel := context.WithTimeout(parent, h.timeout)
	defer cancel()

	fn, ok := h.handlers[in.Type]
	var (
		result any
		err    error
	)
	if ok {
		result, err = fn(ctx, connID, in.Payload)
	} else {
		err = domain.Invalid("type", "unsupported event "+in.Type)
	}

	if err != nil {
		level := slog.LevelDebug
		if domain.KindOf(err) == domain.KindInternal {
			level = slog.LevelError
		}
		h.log.Log(ctx, level, "event rejected", "conn", connID, "event", in.Type, "error", err)
	}
	if len(in.ID) == 0 || string(in.ID) == "null" {
		return
	}
	h.hub.reply(connID, in.ID, ackPayload(result, err))
}

// ackPayload flattens a result into {success: true, ...fields} or describes the failure.
func ackPayload(result any, err error) any {
	if err != nil {
		out := ackError{Message: errorMessage(err), Kind: domain.KindOf(err)}
		var fe *domain.FieldError
		if errors.As(err, &fe) {
			out.Field = fe.Field
		}
		return out
	}
	fields := map[string]any{}
	if result != nil {
		if data, err := json.Marshal(result); err == nil {
			_ = json.Unmarshal(data, &fields)
		}
	}
	fields["success"] = true
	return fields
}

func errorMessage(err error) string {
	switch domain.KindOf(err) {
	case domain.KindRateLimited:
		return "Too many attempts. Please try again later."
	case domain.KindInternal:
		return "Internal error"
	}
	var fe *domain.FieldError
	if errors.As(err, &fe) {
		return fe.Error()
	}
	return err.Error()
}

func clientOrigin(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
