package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinickit/clinic-scheduling/internal/db"
)

var log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

func main() {
	log.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool); err != nil {
		log.Fatal().Err(err).Msg("migrate schema")
	}

	gofakeit.Seed(time.Now().UnixNano())

	doctorIDs, err := seedDoctors(context.Background(), pool, 20)
	if err != nil {
		log.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedPatients(context.Background(), pool, 500); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}
	if err := seedSlots(context.Background(), pool, doctorIDs, 14); err != nil {
		log.Fatal().Err(err).Msg("seed slots")
	}

	log.Info().Msg("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]int64, error) {
	log.Info().Int("count", count).Msg("seeding doctors")

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]int64, 0, count)
	for i := 0; i < count; i++ {
		name := "Dr. " + gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		var id int64
		err := tx.QueryRow(ctx, `
			INSERT INTO doctors (name, specialty)
			VALUES ($1, $2)
			RETURNING id
		`, name, spec).Scan(&id)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Info().Msg("doctors seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 100

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (name, email)
				VALUES ($1, $2)
			`, gofakeit.Name(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}

	return nil
}

// seedSlots gives every doctor 30 minute slots between 09:00 and 12:00 for
// each of the next `days` days.
func seedSlots(ctx context.Context, pool *pgxpool.Pool, doctorIDs []int64, days int) error {
	log.Info().Int("doctors", len(doctorIDs)).Int("days", days).Msg("seeding slots")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	today := time.Now()
	for _, doctorID := range doctorIDs {
		for d := 1; d <= days; d++ {
			date := today.AddDate(0, 0, d).Format("2006-01-02")
			for hour := 9; hour < 12; hour++ {
				for _, half := range []int{0, 30} {
					start := fmt.Sprintf("%02d:%02d:00", hour, half)
					endMin := half + 30
					endHour := hour
					if endMin == 60 {
						endMin = 0
						endHour++
					}
					end := fmt.Sprintf("%02d:%02d:00", endHour, endMin)

					_, err := tx.Exec(ctx, `
						INSERT INTO appointment_slots (doctor_id, date, start_time, end_time, is_available)
						VALUES ($1, $2::date, $3::time, $4::time, TRUE)
					`, doctorID, date, start, end)
					if err != nil {
						return err
					}
				}
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Info().Msg("slots seeded")
	return nil
}
