package app

import (
	"math"
	"strconv"
	"strings"

	"classroom-session-service/internal/domain"
)

// verdict is the outcome of one submission against a due question.
type verdict struct {
	// correct advances the participant; skipped marks an advance without a right answer.
	correct  bool
	skipped  bool
	attempts int
	canSkip  bool
}

// evaluate judges an answer given the wrong attempts already recorded for the question.
func evaluate(q domain.Question, answer domain.Answer, prior int) (verdict, error) {
	if answer.IsSkip() {
		if !q.Skip.CanSkip(prior) {
			return verdict{}, domain.ErrSkipNotAllowed
		}
		return verdict{correct: true, skipped: true, attempts: prior}, nil
	}
	if matches(q.QuestionDraft, answer) {
		return verdict{correct: true, attempts: prior}, nil
	}
	attempts := prior + 1
	if t := q.Skip.AutoSkipThreshold(); t > 0 && attempts >= t {
		return verdict{correct: true, skipped: true, attempts: attempts}, nil
	}
	return verdict{attempts: attempts, canSkip: q.Skip.CanSkip(attempts)}, nil
}

func matches(q domain.QuestionDraft, answer domain.Answer) bool {
	switch q.Type {
	case domain.QuestionMultiSelect:
		return matchSet(q, answer.Values)
	case domain.QuestionSingleSelect:
		if len(answer.Values) != 1 {
			return false
		}
		return contains(q.CorrectAnswer, strings.TrimSpace(answer.Values[0]))
	}
	if len(answer.Values) != 1 {
		return false
	}
	given := answer.Values[0]
	for _, want := range q.CorrectAnswer {
		switch q.Type {
		case domain.QuestionNumeric:
			if numericEqual(want, given) {
				return true
			}
		default:
			if foldText(want) == foldText(given) {
				return true
			}
		}
	}
	return false
}

// matchSet compares chosen option ids with the correct set. acceptMultiple without requireAll
// accepts any overlap; otherwise the sets must be equal.
func matchSet(q domain.QuestionDraft, values []string) bool {
	chosen := make(map[string]bool, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			chosen[v] = true
		}
	}
	if len(chosen) == 0 {
		return false
	}
	overlap := 0
	for _, c := range q.CorrectAnswer {
		if chosen[c] {
			overlap++
		}
	}
	if q.Answer != nil && q.Answer.AcceptMultiple && !q.Answer.RequireAll {
		return overlap > 0
	}
	return overlap == len(q.CorrectAnswer) && len(chosen) == len(q.CorrectAnswer)
}

func foldText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func numericEqual(a, b string) bool {
	x, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
	if err != nil {
		return false
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if err != nil {
		return false
	}
	return math.Abs(x-y) <= 1e-9*math.Max(1, math.Abs(x))
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
