package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"classroom-session-service/internal/config"
	"classroom-session-service/internal/domain"
	"classroom-session-service/internal/infra/postgres"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewBankCmd groups question bank maintenance commands.
func NewBankCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bank",
		Short: "Manage question banks sessions can be seeded from",
	}
	cmd.AddCommand(newBankImportCmd(configPath))
	cmd.AddCommand(newBankListCmd(configPath))
	return cmd
}

func newBankImportCmd(configPath *string) *cobra.Command {
	var (
		id   string
		file string
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Validate a YAML or JSON bank file and store it in postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			newLogger(cfg, cmdOutput())
			bank, err := readBankFile(file)
			if err != nil {
				return err
			}
			if id != "" {
				bank.ID = id
			}
			return importBank(cmd.Context(), cfg, bank)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "bank id (defaults to the id in the file)")
	cmd.Flags().StringVar(&file, "file", "", "path to the bank file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newBankListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored question banks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return errors.New("postgres url not configured")
			}
			db := postgres.OpenDB(cfg.Postgres.URL)
			defer db.Close()
			banks, err := postgres.NewBankStore(db).List(cmd.Context())
			if err != nil {
				return err
			}
			for _, b := range banks {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", b.ID, b.Title)
			}
			return nil
		},
	}
}

// readBankFile parses a bank and normalizes every question so bad files fail before import.
// YAML is a superset of JSON, so one decoder serves both.
func readBankFile(path string) (domain.QuestionBank, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.QuestionBank{}, err
	}
	var bank domain.QuestionBank
	if err := yaml.Unmarshal(data, &bank); err != nil {
		return domain.QuestionBank{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if bank.ID == "" {
		bank.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if len(bank.Questions) == 0 {
		return domain.QuestionBank{}, errors.New("bank has no questions")
	}
	for i := range bank.Questions {
		if err := bank.Questions[i].Normalize(); err != nil {
			return domain.QuestionBank{}, fmt.Errorf("question %d: %w", i, err)
		}
	}
	return bank, nil
}

func importBank(ctx context.Context, cfg config.Config, bank domain.QuestionBank) error {
	if err := runMigrationsWithConfig(ctx, cfg); err != nil {
		return err
	}
	db := postgres.OpenDB(cfg.Postgres.URL)
	defer db.Close()
	if err := postgres.NewBankStore(db).Upsert(ctx, bank); err != nil {
		return err
	}
	slog.Info("bank imported", "bank", bank.ID, "questions", len(bank.Questions))
	return nil
}
