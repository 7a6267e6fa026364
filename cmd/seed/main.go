package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/directory"
	"github.com/hackgods/clinic-appointment-scheduling/internal/logging"
)

var specializations = []string{
	"Cardiologist",
	"Dermatologist",
	"Neurologist",
	"Orthopedist",
}

type seedOptions struct {
	doctors  int
	patients int
	password string
}

func main() {
	opts := seedOptions{}

	rootCmd := &cobra.Command{
		Use:          "seed",
		Short:        "Populate the clinic database with fake doctors and patients",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	rootCmd.Flags().IntVar(&opts.doctors, "doctors", 20, "number of doctors to create")
	rootCmd.Flags().IntVar(&opts.patients, "patients", 500, "number of patients to create")
	rootCmd.Flags().StringVar(&opts.password, "password", "password123", "password shared by every seeded account")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts seedOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel, "seed")
	logger.Info().Int("doctors", opts.doctors).Int("patients", opts.patients).Msg("seed starting")

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(connCtx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := db.ApplySchema(connCtx, pool); err != nil {
		return err
	}

	// one hash for everybody, bcrypt per row would dominate the run
	hash, err := auth.HashPassword(opts.password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	gofakeit.Seed(time.Now().UnixNano())
	repo := directory.NewPgRepository(pool)
	runID := gofakeit.LetterN(5)

	if err := seedPeople(ctx, logger, repo, directory.RoleDoctor, opts.doctors, hash, runID); err != nil {
		return fmt.Errorf("seed doctors: %w", err)
	}
	if err := seedPeople(ctx, logger, repo, directory.RolePatient, opts.patients, hash, runID); err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}

	logger.Info().Msg("seed complete")
	return nil
}

func seedPeople(ctx context.Context, logger zerolog.Logger, repo *directory.PgRepository, role directory.Role, count int, hash, runID string) error {
	logger.Info().Str("role", string(role)).Int("count", count).Msg("seeding")

	for i := range count {
		first, last := gofakeit.FirstName(), gofakeit.LastName()
		handle := strings.ToLower(fmt.Sprintf("%s.%s.%s%d", first, last, runID, i))

		p := &directory.Person{
			Role:         role,
			Name:         first + " " + last,
			Handle:       handle,
			Email:        handle + "@" + gofakeit.DomainName(),
			PasswordHash: hash,
		}
		if role == directory.RoleDoctor {
			p.Specialization = specializations[i%len(specializations)]
		}

		if err := p.Validate(); err != nil {
			return err
		}
		if err := repo.Create(ctx, p); err != nil {
			return err
		}

		if (i+1)%100 == 0 {
			logger.Info().Str("role", string(role)).Msgf("seeded %d/%d", i+1, count)
		}
	}

	return nil
}
