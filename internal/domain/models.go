package domain

import (
	"strconv"
	"strings"
	"time"
)

// Role is the part a connection plays inside a session.
type Role string

const (
	RoleController Role = "controller"
	RolePresenter  Role = "presenter"
	RoleAudience   Role = "audience"
)

// Valid reports whether r is one of the three fixed roles.
func (r Role) Valid() bool {
	return r == RoleController || r == RolePresenter || r == RoleAudience
}

// QuestionType enumerates how a question is answered.
type QuestionType string

const (
	QuestionSingleSelect QuestionType = "single_select"
	QuestionMultiSelect  QuestionType = "multi_select"
	QuestionYesNo        QuestionType = "yes_no"
	QuestionShortText    QuestionType = "short_text"
	QuestionLongText     QuestionType = "long_text"
	QuestionNumeric      QuestionType = "number"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionSingleSelect, QuestionMultiSelect, QuestionYesNo,
		QuestionShortText, QuestionLongText, QuestionNumeric:
		return true
	}
	return false
}

// IsSelect reports whether the question carries options.
func (t QuestionType) IsSelect() bool {
	return t == QuestionSingleSelect || t == QuestionMultiSelect
}

// IsText reports whether the question takes free text.
func (t QuestionType) IsText() bool {
	return t == QuestionShortText || t == QuestionLongText
}

// SkipSentinel is the answer value a participant sends to skip a question.
const SkipSentinel = "__SKIP__"

// Option is one selectable answer; its ID is stable and independent of the question ID.
type Option struct {
	ID   string `json:"id" yaml:"id"`
	Text string `json:"text" yaml:"text"`
}

// Media references an image, audio or video shown with the question. The URL is opaque.
type Media struct {
	Kind string `json:"kind" yaml:"kind"`
	URL  string `json:"url" yaml:"url"`
}

// Timer is advisory only; clients display it, the server never enforces it.
type Timer struct {
	DurationSeconds int  `json:"duration" yaml:"duration"`
	ShowToAudience  bool `json:"showToAudience" yaml:"showToAudience"`
}

// SkipPolicy controls when a participant may move past a question without answering it.
type SkipPolicy struct {
	Skippable       bool `json:"skippable,omitempty" yaml:"skippable"`
	AllowSkipAfter  int  `json:"allowSkipAfter,omitempty" yaml:"allowSkipAfter"`
	AutoSkipAfter   int  `json:"autoSkipAfter,omitempty" yaml:"autoSkipAfter"`
	AutoSkipOnWrong bool `json:"autoSkipOnWrong,omitempty" yaml:"autoSkipOnWrong"`
}

// AutoSkipThreshold returns the number of wrong attempts after which the question is skipped automatically.
func (p *SkipPolicy) AutoSkipThreshold() int {
	if p == nil {
		return 0
	}
	if p.AutoSkipOnWrong {
		return 1
	}
	return p.AutoSkipAfter
}

// CanSkip reports whether the skip sentinel is accepted after the given number of wrong attempts.
func (p *SkipPolicy) CanSkip(attempts int) bool {
	if p == nil {
		return false
	}
	if p.Skippable {
		return true
	}
	return p.AllowSkipAfter > 0 && attempts >= p.AllowSkipAfter
}

// AnswerPolicy applies to multi-select questions.
type AnswerPolicy struct {
	AcceptMultiple bool `json:"acceptMultiple,omitempty" yaml:"acceptMultiple"`
	RequireAll     bool `json:"requireAll,omitempty" yaml:"requireAll"`
}

// QuestionDraft is the controller-authored content of a question.
type QuestionDraft struct {
	Text          string        `json:"text" yaml:"text"`
	Type          QuestionType  `json:"questionType" yaml:"questionType"`
	Options       []Option      `json:"options,omitempty" yaml:"options"`
	CorrectAnswer []string      `json:"correctAnswer" yaml:"correctAnswer"`
	Media         *Media        `json:"media,omitempty" yaml:"media"`
	CharLimit     int           `json:"charLimit,omitempty" yaml:"charLimit"`
	Timer         *Timer        `json:"timer,omitempty" yaml:"timer"`
	Skip          *SkipPolicy   `json:"skipConfig,omitempty" yaml:"skipConfig"`
	Answer        *AnswerPolicy `json:"answerConfig,omitempty" yaml:"answerConfig"`
}

// Clone returns a deep copy so stored questions never share memory with callers.
func (d QuestionDraft) Clone() QuestionDraft {
	c := d
	c.Options = append([]Option(nil), d.Options...)
	c.CorrectAnswer = append([]string(nil), d.CorrectAnswer...)
	if d.Media != nil {
		m := *d.Media
		c.Media = &m
	}
	if d.Timer != nil {
		t := *d.Timer
		c.Timer = &t
	}
	if d.Skip != nil {
		sp := *d.Skip
		c.Skip = &sp
	}
	if d.Answer != nil {
		a := *d.Answer
		c.Answer = &a
	}
	return c
}

// DefaultShortTextLimit matches the character limit the controller UI applies when none is set.
const DefaultShortTextLimit = 25

// Normalize validates the draft and clears fields that do not apply to its type.
// Options without an ID receive "opt<index>", skipping IDs already in use.
func (d *QuestionDraft) Normalize() error {
	d.Text = strings.TrimSpace(d.Text)
	if d.Text == "" {
		return Invalid("text", "is required")
	}
	if !d.Type.Valid() {
		return Invalid("questionType", "unknown question type")
	}

	answers := make([]string, 0, len(d.CorrectAnswer))
	for _, a := range d.CorrectAnswer {
		if a = strings.TrimSpace(a); a != "" {
			answers = append(answers, a)
		}
	}
	d.CorrectAnswer = answers
	if len(d.CorrectAnswer) == 0 {
		return Invalid("correctAnswer", "at least one correct answer is required")
	}

	if d.Type.IsSelect() {
		if err := d.normalizeOptions(); err != nil {
			return err
		}
	} else {
		d.Options = nil
		d.Answer = nil
	}
	if d.Type == QuestionSingleSelect {
		d.Answer = nil
	}

	switch d.Type {
	case QuestionYesNo:
		for i, a := range d.CorrectAnswer {
			a = strings.ToLower(a)
			if a != "yes" && a != "no" {
				return Invalid("correctAnswer", "must be yes or no")
			}
			d.CorrectAnswer[i] = a
		}
	case QuestionNumeric:
		for _, a := range d.CorrectAnswer {
			if _, err := strconv.ParseFloat(a, 64); err != nil {
				return Invalid("correctAnswer", "must be numeric")
			}
		}
	}

	switch {
	case d.Type == QuestionShortText && d.CharLimit <= 0:
		d.CharLimit = DefaultShortTextLimit
	case d.Type == QuestionLongText && d.CharLimit < 0:
		d.CharLimit = 0
	case !d.Type.IsText():
		d.CharLimit = 0
	}

	if d.Timer != nil && d.Timer.DurationSeconds <= 0 {
		d.Timer = nil
	}
	if d.Skip != nil {
		if d.Skip.AllowSkipAfter < 0 || d.Skip.AutoSkipAfter < 0 {
			return Invalid("skipConfig", "attempt counts must not be negative")
		}
		if *d.Skip == (SkipPolicy{}) {
			d.Skip = nil
		}
	}
	return nil
}

func (d *QuestionDraft) normalizeOptions() error {
	opts := make([]Option, 0, len(d.Options))
	for _, o := range d.Options {
		o.Text = strings.TrimSpace(o.Text)
		o.ID = strings.TrimSpace(o.ID)
		if o.Text != "" {
			opts = append(opts, o)
		}
	}
	if len(opts) < 2 {
		return Invalid("options", "select questions need at least two options")
	}

	used := make(map[string]bool, len(opts))
	for _, o := range opts {
		if o.ID != "" {
			if used[o.ID] {
				return Invalid("options", "duplicate option id "+o.ID)
			}
			used[o.ID] = true
		}
	}
	next := 0
	for i := range opts {
		if opts[i].ID != "" {
			continue
		}
		id := "opt" + strconv.Itoa(i)
		for used[id] {
			next++
			id = "opt" + strconv.Itoa(len(opts)+next)
		}
		used[id] = true
		opts[i].ID = id
	}
	d.Options = opts

	for _, a := range d.CorrectAnswer {
		if !used[a] {
			return Invalid("correctAnswer", "unknown option id "+a)
		}
	}
	if d.Type == QuestionSingleSelect && len(d.CorrectAnswer) > 1 {
		return Invalid("correctAnswer", "single select questions take one correct option")
	}
	return nil
}

// Question is an element of a session's ordered collection. ID is issued once by the session.
type Question struct {
	ID int `json:"id"`
	QuestionDraft
	CreatedAt time.Time `json:"createdAt"`
}

// QuestionView is what participants see: the question without its answer key.
type QuestionView struct {
	ID        int           `json:"id"`
	Text      string        `json:"text"`
	Type      QuestionType  `json:"questionType"`
	Options   []Option      `json:"options,omitempty"`
	Media     *Media        `json:"media,omitempty"`
	CharLimit int           `json:"charLimit,omitempty"`
	Timer     *Timer        `json:"timer,omitempty"`
	Skippable bool          `json:"skippable"`
	Answer    *AnswerPolicy `json:"answerConfig,omitempty"`
}

// View strips the answer key.
func (q Question) View() QuestionView {
	return QuestionView{
		ID:        q.ID,
		Text:      q.Text,
		Type:      q.Type,
		Options:   q.Options,
		Media:     q.Media,
		CharLimit: q.CharLimit,
		Timer:     q.Timer,
		Skippable: q.Skip != nil && q.Skip.Skippable,
		Answer:    q.Answer,
	}
}

// ParticipantStatus is the admission state of a participant.
type ParticipantStatus string

const (
	StatusPending      ParticipantStatus = "pending"
	StatusApproved     ParticipantStatus = "approved"
	StatusDisconnected ParticipantStatus = "disconnected"
)

// ParticipantView is a roster entry sent to the controller and presenters.
type ParticipantView struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Status   ParticipantStatus `json:"status"`
	Progress int               `json:"progress"`
	JoinedAt time.Time         `json:"joinedAt"`
}

// Roster is the payload of userListUpdated.
type Roster struct {
	Users          []ParticipantView `json:"users"`
	TotalQuestions int               `json:"totalQuestions"`
}

// PresenterMode configures what presenters display.
type PresenterMode struct {
	Mode             string `json:"mode"`
	ChartType        string `json:"chartType,omitempty"`
	ShowRankPosition bool   `json:"showRankPosition"`
}

// SessionSnapshot is a read-only export of a session. Credentials are never included.
type SessionSnapshot struct {
	Code               string            `json:"code"`
	Theme              string            `json:"theme"`
	Deadline           *time.Time        `json:"deadline"`
	AudienceURLVisible bool              `json:"isAudienceUrlVisible"`
	PresenterMode      PresenterMode     `json:"presenterMode"`
	AudienceViews      []string          `json:"audienceViews"`
	CreatedAt          time.Time         `json:"createdAt"`
	Questions          []Question        `json:"questions"`
	Participants       []ParticipantView `json:"participants"`
	ControllerOnline   bool              `json:"controllerOnline"`
	Presenters         int               `json:"presenters"`
}

// QuestionBank is a reusable set of question drafts a session can be seeded from.
type QuestionBank struct {
	ID        string          `json:"id" yaml:"id"`
	Title     string          `json:"title" yaml:"title"`
	Questions []QuestionDraft `json:"questions" yaml:"questions"`
}
