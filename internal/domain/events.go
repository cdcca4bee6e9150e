package domain

import (
	"fmt"
	"strings"
	"time"
)

// Inbound event names.
const (
	EventCreateSession         = "createSession"
	EventJoinAdminSession      = "joinAdminSession"
	EventRequestJoin           = "requestJoin"
	EventApproveUser           = "approveUser"
	EventRejectUser            = "rejectUser"
	EventRemoveUser            = "removeUser"
	EventResetUserProgress     = "resetUserProgress"
	EventResetAllUsersProgress = "resetAllUsersProgress"
	EventCreateQuestion        = "createQuestion"
	EventEditQuestion          = "editQuestion"
	EventDeleteQuestion        = "deleteQuestion"
	EventReorderQuestions      = "reorderQuestions"
	EventSubmitAnswer          = "submitAnswer"
	EventChangeTheme           = "changeTheme"
	EventToggleAudienceURL     = "toggleAudienceUrl"
	EventChangePresenterMode   = "changePresenterMode"
	EventChangeAudienceView    = "changeAudienceView"
	EventChangeDeadline        = "changeDeadline"
	EventChangePassword        = "changePassword"
	EventEndSession            = "endSession"
)

// Outbound event names.
const (
	EventQuestionsUpdated     = "questionsUpdated"
	EventUserListUpdated      = "userListUpdated"
	EventUserRequestedJoin    = "userRequestedJoin"
	EventJoinApproved         = "joinApproved"
	EventJoinRejected         = "joinRejected"
	EventRemovedFromSession   = "removedFromSession"
	EventAnswerResult         = "answerResult"
	EventCurrentQuestion      = "currentQuestion"
	EventControllerDisplaced  = "controllerDisplaced"
	EventParticipantDisplaced = "participantDisplaced"
	EventSessionEnded         = "sessionEnded"
	EventThemeChanged         = "themeChanged"
	EventAudienceURLChanged   = "audienceUrlVisibilityChanged"
	EventPresenterModeChanged = "presenterModeChanged"
	EventAudienceViewChanged  = "audienceViewChanged"
	EventDeadlineChanged      = "deadlineChanged"
	EventPasswordChanged      = "passwordChanged"
)

func requireCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return Invalid("sessionCode", "is required")
	}
	return nil
}

// CreateSessionRequest opens a new session. Questions and BankID seed the collection.
type CreateSessionRequest struct {
	ControllerSecret string          `json:"controllerSecret"`
	PresenterSecret  string          `json:"presenterSecret"`
	Theme            string          `json:"theme"`
	Deadline         *time.Time      `json:"deadline"`
	BankID           string          `json:"bankId"`
	Questions        []QuestionDraft `json:"questions"`
}

func (r *CreateSessionRequest) Validate() error {
	if r.ControllerSecret == "" {
		return Invalid("controllerSecret", "is required")
	}
	if r.PresenterSecret == "" {
		return Invalid("presenterSecret", "is required")
	}
	r.BankID = strings.TrimSpace(r.BankID)
	for i := range r.Questions {
		if err := r.Questions[i].Normalize(); err != nil {
			return Invalid(fmt.Sprintf("questions[%d]", i), err.Error())
		}
	}
	return nil
}

type CreateSessionAck struct {
	SessionCode string `json:"sessionCode"`
}

// JoinAdminRequest attaches a controller or presenter connection.
type JoinAdminRequest struct {
	SessionCode string `json:"sessionCode"`
	Secret      string `json:"secret"`
	Role        Role   `json:"role"`
}

func (r *JoinAdminRequest) Validate() error {
	if err := requireCode(r.SessionCode); err != nil {
		return err
	}
	if r.Role != RoleController && r.Role != RolePresenter {
		return Invalid("role", "must be controller or presenter")
	}
	return nil
}

type AdminJoinAck struct {
	SessionCode        string            `json:"sessionCode"`
	Users              []ParticipantView `json:"users"`
	TotalQuestions     int               `json:"totalQuestions"`
	Questions          []Question        `json:"questions"`
	Theme              string            `json:"theme"`
	Deadline           *time.Time        `json:"deadline"`
	AudienceURLVisible bool              `json:"isAudienceUrlVisible"`
	PresenterMode      PresenterMode     `json:"presenterMode"`
	AudienceViews      []string          `json:"audienceViews"`
	ExportToken        string            `json:"exportToken,omitempty"`
}

// JoinRequest is a participant asking to be admitted or to resume a previous identity.
type JoinRequest struct {
	SessionCode string `json:"sessionCode"`
	Name        string `json:"name"`
	Secret      string `json:"secret"`
}

// MinNameLength is the shortest display name accepted.
const MinNameLength = 2

func (r *JoinRequest) Validate() error {
	if err := requireCode(r.SessionCode); err != nil {
		return err
	}
	r.Name = strings.TrimSpace(r.Name)
	if len([]rune(r.Name)) < MinNameLength {
		return Invalid("name", "please enter a valid name")
	}
	if r.Secret == "" {
		return Invalid("secret", "is required")
	}
	return nil
}

type JoinAck struct {
	Status      ParticipantStatus `json:"status"`
	Reconnected bool              `json:"reconnected"`
	Message     string            `json:"message"`
}

// SessionRequest carries only the session code.
type SessionRequest struct {
	SessionCode string `json:"sessionCode"`
}

func (r *SessionRequest) Validate() error { return requireCode(r.SessionCode) }

// TargetRequest names one participant by its current connection id.
type TargetRequest struct {
	SessionCode string `json:"sessionCode"`
	TargetID    string `json:"targetConnectionId"`
}

func (r *TargetRequest) Validate() error {
	if err := requireCode(r.SessionCode); err != nil {
		return err
	}
	if r.TargetID == "" {
		return Invalid("targetConnectionId", "is required")
	}
	return nil
}

type CreateQuestionRequest struct {
	SessionCode string        `json:"sessionCode"`
	Question    QuestionDraft `json:"question"`
}

func (r *CreateQuestionRequest) Validate() error {
	if err := requireCode(r.SessionCode); err != nil {
		return err
	}
	return r.Question.Normalize()
}

type QuestionAck struct {
	QuestionID int `json:"questionId"`
}

// QuestionPatch holds the fields an edit replaces. Absent fields keep their value.
type QuestionPatch struct {
	Text          Optional[string]        `json:"text"`
	Type          Optional[QuestionType]  `json:"questionType"`
	Options       Optional[[]Option]      `json:"options"`
	CorrectAnswer Optional[[]string]      `json:"correctAnswer"`
	Media         Optional[*Media]        `json:"media"`
	CharLimit     Optional[int]           `json:"charLimit"`
	Timer         Optional[*Timer]        `json:"timer"`
	Skip          Optional[*SkipPolicy]   `json:"skipConfig"`
	Answer        Optional[*AnswerPolicy] `json:"answerConfig"`
}

// Apply returns a copy of d with the patch applied. The result still needs Normalize.
func (p QuestionPatch) Apply(d QuestionDraft) QuestionDraft {
	out := d.Clone()
	if v, ok := p.Text.Get(); ok {
		out.Text = v
	}
	if v, ok := p.Type.Get(); ok {
		out.Type = v
	}
	if v, ok := p.Options.Get(); ok {
		out.Options = append([]Option(nil), v...)
	}
	if v, ok := p.CorrectAnswer.Get(); ok {
		out.CorrectAnswer = append([]string(nil), v...)
	}
	if v, ok := p.Media.Get(); ok {
		out.Media = v
	}
	if v, ok := p.CharLimit.Get(); ok {
		out.CharLimit = v
	}
	if v, ok := p.Timer.Get(); ok {
		out.Timer = v
	}
	if v, ok := p.Skip.Get(); ok {
		out.Skip = v
	}
	if v, ok := p.Answer.Get(); ok {
		out.Answer = v
	}
	return out
}

type EditQuestionRequest struct {
	SessionCode string        `json:"sessionCode"`
	QuestionID  Optional[int] `json:"questionId"`
	Patch       QuestionPatch `json:"updatedQuestion"`
}

func (r *EditQuestionRequest) Validate() error {
	if err := requireCode(r.SessionCode); err != nil {
		return err
	}
	if !r.QuestionID.Set {
		return Invalid("questionId", "is required")
	}
	return nil
}

type DeleteQuestionRequest struct {
	SessionCode string        `json:"sessionCode"`
	QuestionID  Optional[int] `json:"questionId"`
}

func (r *DeleteQuestionRequest) Validate() error {
	if err := requireCode(r.SessionCode); err != nil {
		return err
	}
	if !r.QuestionID.Set {
		return Invalid("questionId", "is required")
	}
	return nil
}

type ReorderQuestionsRequest struct {
	SessionCode string `json:"sessionCode"`
	QuestionIDs []int  `json:"questionIds"`
}

func (r *ReorderQuestionsRequest) Validate() error {
	if err := requireCode(r.SessionCode); err != nil {
		return err
	}
	if r.QuestionIDs == nil {
		return Invalid("questionIds", "is required")
	}
	return nil
}

type SubmitAnswerRequest struct {
	SessionCode string        `json:"sessionCode"`
	QuestionID  Optional[int] `json:"questionId"`
	Answer      Answer        `json:"answer"`
}

func (r *SubmitAnswerRequest) Validate() error {
	if err := requireCode(r.SessionCode); err != nil {
		return err
	}
	if !r.QuestionID.Set {
		return Invalid("questionId", "is required")
	}
	if r.Answer.Empty() {
		return Invalid("answer", "is required")
	}
	return nil
}

type ThemeRequest struct {
	SessionCode string `json:"sessionCode"`
	Theme       string `json:"theme"`
}

func (r *ThemeRequest) Validate() error {
	if err := requireCode(r.SessionCode); err != nil {
		return err
	}
	if strings.TrimSpace(r.Theme) == "" {
		return Invalid("theme", "is required")
	}
	return nil
}

type AudienceURLRequest struct {
	SessionCode string `json:"sessionCode"`
	Visible     bool   `json:"visible"`
}

func (r *AudienceURLRequest) Validate() error { return requireCode(r.SessionCode) }

type PresenterModeRequest struct {
	SessionCode string `json:"sessionCode"`
	PresenterMode
}

func (r *PresenterModeRequest) Validate() error {
	if err := requireCode(r.SessionCode); err != nil {
		return err
	}
	if r.Mode == "" {
		return Invalid("mode", "is required")
	}
	return nil
}

type AudienceViewRequest struct {
	SessionCode  string   `json:"sessionCode"`
	AllowedViews []string `json:"allowedViews"`
}

func (r *AudienceViewRequest) Validate() error { return requireCode(r.SessionCode) }

type DeadlineRequest struct {
	SessionCode string     `json:"sessionCode"`
	Deadline    *time.Time `json:"deadline"`
}

func (r *DeadlineRequest) Validate() error { return requireCode(r.SessionCode) }

// PasswordRequest replaces the credential of the controller or presenter role.
type PasswordRequest struct {
	SessionCode string `json:"sessionCode"`
	Role        Role   `json:"role"`
	Secret      string `json:"secret"`
}

func (r *PasswordRequest) Validate() error {
	if err := requireCode(r.SessionCode); err != nil {
		return err
	}
	if r.Role != RoleController && r.Role != RolePresenter {
		return Invalid("role", "must be controller or presenter")
	}
	if r.Secret == "" {
		return Invalid("secret", "is required")
	}
	return nil
}

// Outbound payloads.

type QuestionsUpdated struct {
	Questions []Question `json:"questions"`
}

type JoinApproved struct {
	FirstQuestion  *QuestionView `json:"firstQuestion"`
	TotalQuestions int           `json:"totalQuestions"`
}

type AnswerResult struct {
	QuestionID     int           `json:"questionId"`
	Correct        bool          `json:"correct"`
	Skipped        bool          `json:"skipped,omitempty"`
	NextQuestion   *QuestionView `json:"nextQuestion"`
	Progress       int           `json:"progress"`
	TotalQuestions int           `json:"totalQuestions"`
	Attempts       int           `json:"attempts,omitempty"`
	CanSkip        bool          `json:"canSkip,omitempty"`
}

type CurrentQuestion struct {
	Question       *QuestionView `json:"question"`
	Progress       int           `json:"progress"`
	TotalQuestions int           `json:"totalQuestions"`
}

type Notice struct {
	Message string `json:"message"`
}

type ThemeChanged struct {
	Theme string `json:"theme"`
}

type AudienceURLChanged struct {
	Visible bool `json:"visible"`
}

type AudienceViewChanged struct {
	AllowedViews []string `json:"allowedViews"`
}

type DeadlineChanged struct {
	Deadline *time.Time `json:"deadline"`
}

type PasswordChanged struct {
	Role Role `json:"role"`
}
