package cli

import (
	"os"
	"path/filepath"
	"testing"

	"classroom-session-service/internal/domain"
)

func TestReadBankFileNormalizesQuestions(t *testing.T) {
	bank, err := readBankFile(filepath.Join("..", "..", "config", "banks", "warmup.yaml"))
	if err != nil {
		t.Fatalf("read bank: %v", err)
	}
	if bank.ID != "warmup" || len(bank.Questions) != 4 {
		t.Fatalf("unexpected bank: %+v", bank)
	}
	multi := bank.Questions[1]
	if multi.Type != domain.QuestionMultiSelect || multi.Options[1].ID != "opt1" || multi.Answer == nil || !multi.Answer.RequireAll {
		t.Fatalf("expected generated option ids and answer policy, got %+v", multi)
	}
	if text := bank.Questions[2]; text.CharLimit != domain.DefaultShortTextLimit || text.Skip == nil || text.Skip.AllowSkipAfter != 2 {
		t.Fatalf("unexpected short text question: %+v", text)
	}
	if timer := bank.Questions[3].Timer; timer == nil || timer.DurationSeconds != 30 {
		t.Fatalf("expected timer to survive, got %+v", timer)
	}
}

func TestReadBankFileRejectsInvalidQuestions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.json")
	data := []byte(`{"title": "Broken", "questions": [{"text": "Pick", "questionType": "single_select", "options": [{"id": "a", "text": "A"}], "correctAnswer": ["a"]}]}`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := readBankFile(path); err == nil {
		t.Fatalf("expected single option question to be rejected")
	}

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("title: Nothing\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := readBankFile(empty); err == nil {
		t.Fatalf("expected empty bank to be rejected")
	}
}

func TestSampleBanksAreValid(t *testing.T) {
	for id, bank := range sampleBanks() {
		for i, q := range bank.Questions {
			q = q.Clone()
			if err := q.Normalize(); err != nil {
				t.Fatalf("%s question %d: %v", id, i, err)
			}
		}
	}
}
