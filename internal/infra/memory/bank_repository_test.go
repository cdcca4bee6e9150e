package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"classroom-session-service/internal/domain"
)

func TestBankRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		BankLoader: NewStaticBankLoader(map[string]domain.QuestionBank{
			"bank-1": sampleBank(),
		}),
	}
	repo := NewBankRepository(loader, time.Minute)

	if _, err := repo.GetBank(context.Background(), "bank-1"); err != nil {
		t.Fatalf("get bank: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected loader once, got %d", loader.count())
	}

	bank, err := repo.GetBank(context.Background(), "bank-1")
	if err != nil {
		t.Fatalf("get bank 2: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.count())
	}
	if len(bank.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(bank.Questions))
	}
}

func TestBankRepositoryReturnsCopies(t *testing.T) {
	repo := NewBankRepository(NewStaticBankLoader(map[string]domain.QuestionBank{
		"bank-1": sampleBank(),
	}), time.Minute)

	first, _ := repo.GetBank(context.Background(), "bank-1")
	first.Questions[0].Text = "mutated"
	first.Questions[0].Options[0].Text = "mutated"

	second, _ := repo.GetBank(context.Background(), "bank-1")
	if second.Questions[0].Text == "mutated" || second.Questions[0].Options[0].Text == "mutated" {
		t.Fatalf("cached bank shares memory with callers")
	}
}

func TestBankRepositoryExpires(t *testing.T) {
	loader := &countingLoader{
		BankLoader: NewStaticBankLoader(map[string]domain.QuestionBank{"bank-1": sampleBank()}),
	}
	repo := NewBankRepository(loader, time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.clock = func() time.Time { return now }

	_, _ = repo.GetBank(context.Background(), "bank-1")
	now = now.Add(2 * time.Minute)
	_, _ = repo.GetBank(context.Background(), "bank-1")
	if loader.count() != 2 {
		t.Fatalf("expected reload after ttl, loader calls %d", loader.count())
	}

	repo.Invalidate("bank-1")
	_, _ = repo.GetBank(context.Background(), "bank-1")
	if loader.count() != 3 {
		t.Fatalf("expected reload after invalidate, loader calls %d", loader.count())
	}
}

func TestBankRepositoryUnknownBank(t *testing.T) {
	repo := NewBankRepository(NewStaticBankLoader(nil), time.Minute)
	if _, err := repo.GetBank(context.Background(), "missing"); !errors.Is(err, domain.ErrBankNotFound) {
		t.Fatalf("expected ErrBankNotFound, got %v", err)
	}
}

type countingLoader struct {
	BankLoader
	mu    sync.Mutex
	calls int
}

func (l *countingLoader) LoadBank(ctx context.Context, bankID string) (domain.QuestionBank, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return l.BankLoader.LoadBank(ctx, bankID)
}

func (l *countingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func sampleBank() domain.QuestionBank {
	return domain.QuestionBank{
		ID:    "bank-1",
		Title: "Arithmetic",
		Questions: []domain.QuestionDraft{
			{
				Text: "What is 2 + 2?",
				Type: domain.QuestionSingleSelect,
				Options: []domain.Option{
					{ID: "a", Text: "3"},
					{ID: "b", Text: "4"},
				},
				CorrectAnswer: []string{"b"},
			},
			{
				Text:          "What is 3 * 3?",
				Type:          domain.QuestionNumeric,
				CorrectAnswer: []string{"9"},
			},
		},
	}
}
