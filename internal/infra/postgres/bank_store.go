package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"classroom-session-service/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// OpenDB opens a bun handle over the pgdriver connector.
func OpenDB(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

type bankRow struct {
	bun.BaseModel `bun:"table:question_banks"`

	ID        string          `bun:"id,pk"`
	Title     string          `bun:"title"`
	Data      json.RawMessage `bun:"data,type:jsonb"`
	UpdatedAt time.Time       `bun:"updated_at"`
}

// BankStore writes question banks; reads go through BankLoader.
type BankStore struct {
	db *bun.DB
}

func NewBankStore(db *bun.DB) *BankStore {
	return &BankStore{db: db}
}

// Upsert stores a bank, replacing an existing one with the same id.
func (s *BankStore) Upsert(ctx context.Context, bank domain.QuestionBank) error {
	data, err := json.Marshal(bank.Questions)
	if err != nil {
		return fmt.Errorf("marshal bank: %w", err)
	}
	row := &bankRow{ID: bank.ID, Title: bank.Title, Data: data, UpdatedAt: time.Now().UTC()}
	_, err = s.db.NewInsert().
		Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("title = EXCLUDED.title").
		Set("data = EXCLUDED.data").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert bank %s: %w", bank.ID, err)
	}
	return nil
}

// List returns bank ids and titles ordered by id.
func (s *BankStore) List(ctx context.Context) ([]domain.QuestionBank, error) {
	var rows []bankRow
	if err := s.db.NewSelect().Model(&rows).Column("id", "title").Order("id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list banks: %w", err)
	}
	out := make([]domain.QuestionBank, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.QuestionBank{ID: r.ID, Title: r.Title})
	}
	return out, nil
}
