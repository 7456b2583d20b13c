package clinic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same query
// code serves plain calls and transactional ones.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgStore struct {
	q querier
}

type PgRepository struct {
	pgStore
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pgStore: pgStore{q: pool}, pool: pool}
}

// InTx runs fn against a Store bound to one transaction. Begin/commit
// failures are wrapped in ErrTxFailed so callers can treat them as retryable;
// errors out of fn pass through untouched.
func (r *PgRepository) InTx(ctx context.Context, fn func(Store) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrTxFailed, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgStore{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrTxFailed, err)
	}
	return nil
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	if err := row.Scan(&d.ID, &d.Name, &d.Specialty); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	if err := row.Scan(&p.ID, &p.Name, &p.Email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanSlot(row pgx.Row) (*AppointmentSlot, error) {
	var s AppointmentSlot
	err := row.Scan(&s.ID, &s.DoctorID, &s.Date, &s.StartTime, &s.EndTime, &s.IsAvailable)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	if err := row.Scan(&a.ID, &a.PatientID, &a.SlotID, &a.BookedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanCancellation(row pgx.Row) (*Cancellation, error) {
	var c Cancellation
	if err := row.Scan(&c.ID, &c.AppointmentID, &c.Reason, &c.CancelledAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCancellationNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Doctors

func (s *pgStore) CreateDoctor(ctx context.Context, name, specialty string) (*Doctor, error) {
	row := s.q.QueryRow(ctx, `
		INSERT INTO doctors (name, specialty)
		VALUES ($1, $2)
		RETURNING id, name, specialty
	`, name, specialty)
	return scanDoctor(row)
}

func (s *pgStore) GetDoctor(ctx context.Context, id int64) (*Doctor, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, name, specialty
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (s *pgStore) UpdateDoctor(ctx context.Context, id int64, name, specialty string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE doctors
		SET name = $2, specialty = $3
		WHERE id = $1
	`, id, name, specialty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

func (s *pgStore) DeleteDoctor(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM doctors WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

func (s *pgStore) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, name, specialty
		FROM doctors
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

func (s *pgStore) CountSlotsByDoctor(ctx context.Context, doctorID int64) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `
		SELECT count(*) FROM appointment_slots WHERE doctor_id = $1
	`, doctorID).Scan(&n)
	return n, err
}

// Patients

func (s *pgStore) CreatePatient(ctx context.Context, name, email string) (*Patient, error) {
	row := s.q.QueryRow(ctx, `
		INSERT INTO patients (name, email)
		VALUES ($1, $2)
		RETURNING id, name, email
	`, name, email)
	return scanPatient(row)
}

func (s *pgStore) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, name, email
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (s *pgStore) UpdatePatient(ctx context.Context, id int64, name, email string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE patients
		SET name = $2, email = $3
		WHERE id = $1
	`, id, name, email)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (s *pgStore) DeletePatient(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (s *pgStore) ListPatients(ctx context.Context) ([]Patient, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, name, email
		FROM patients
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (s *pgStore) CountAppointmentsByPatient(ctx context.Context, patientID int64) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `
		SELECT count(*) FROM appointments WHERE patient_id = $1
	`, patientID).Scan(&n)
	return n, err
}

// Slots

const slotColumns = `id, doctor_id, date::text, start_time::text, end_time::text, is_available`

func (s *pgStore) CreateSlot(ctx context.Context, doctorID int64, date, startTime, endTime string) (*AppointmentSlot, error) {
	row := s.q.QueryRow(ctx, `
		INSERT INTO appointment_slots (doctor_id, date, start_time, end_time, is_available)
		VALUES ($1, $2::date, $3::time, $4::time, TRUE)
		RETURNING `+slotColumns+`
	`, doctorID, date, startTime, endTime)
	return scanSlot(row)
}

func (s *pgStore) GetSlot(ctx context.Context, id int64) (*AppointmentSlot, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM appointment_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (s *pgStore) GetSlotForUpdate(ctx context.Context, id int64) (*AppointmentSlot, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM appointment_slots
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanSlot(row)
}

func (s *pgStore) UpdateSlotTimes(ctx context.Context, id int64, date, startTime, endTime string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE appointment_slots
		SET date = $2::date, start_time = $3::time, end_time = $4::time
		WHERE id = $1
	`, id, date, startTime, endTime)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (s *pgStore) SetSlotAvailability(ctx context.Context, id int64, available bool) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE appointment_slots
		SET is_available = $2
		WHERE id = $1
	`, id, available)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (s *pgStore) DeleteSlot(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM appointment_slots WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (s *pgStore) ListSlots(ctx context.Context, doctorID int64, availableOnly bool) ([]AppointmentSlot, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+slotColumns+`
		FROM appointment_slots
		WHERE ($1 = 0 OR doctor_id = $1)
		  AND (NOT $2 OR is_available)
		ORDER BY date, start_time
	`, doctorID, availableOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppointmentSlot
	for rows.Next() {
		sl, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *sl)
	}
	return result, rows.Err()
}

func (s *pgStore) CountAppointmentsBySlot(ctx context.Context, slotID int64) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `
		SELECT count(*) FROM appointments WHERE slot_id = $1
	`, slotID).Scan(&n)
	return n, err
}

// Appointments

func (s *pgStore) CreateAppointment(ctx context.Context, patientID, slotID int64, bookedAt time.Time) (*Appointment, error) {
	row := s.q.QueryRow(ctx, `
		INSERT INTO appointments (patient_id, slot_id, booked_at)
		VALUES ($1, $2, $3)
		RETURNING id, patient_id, slot_id, booked_at
	`, patientID, slotID, bookedAt)
	return scanAppointment(row)
}

func (s *pgStore) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, patient_id, slot_id, booked_at
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (s *pgStore) GetAppointmentForUpdate(ctx context.Context, id int64) (*Appointment, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, patient_id, slot_id, booked_at
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAppointment(row)
}

func (s *pgStore) UpdateAppointment(ctx context.Context, id, patientID, slotID int64, bookedAt time.Time) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE appointments
		SET patient_id = $2, slot_id = $3, booked_at = $4
		WHERE id = $1
	`, id, patientID, slotID, bookedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (s *pgStore) DeleteAppointment(ctx context.Context, id int64) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (s *pgStore) ListAppointments(ctx context.Context) ([]Appointment, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, patient_id, slot_id, booked_at
		FROM appointments
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (s *pgStore) ListPatientAppointments(ctx context.Context, patientID int64) ([]PatientAppointment, error) {
	rows, err := s.q.Query(ctx, `
		SELECT a.id, d.name, s.date::text, s.start_time::text, s.end_time::text
		FROM appointments a
		JOIN appointment_slots s ON a.slot_id = s.id
		JOIN doctors d ON s.doctor_id = d.id
		WHERE a.patient_id = $1
		ORDER BY s.date, s.start_time
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []PatientAppointment
	for rows.Next() {
		var pa PatientAppointment
		if err := rows.Scan(&pa.AppointmentID, &pa.DoctorName, &pa.Date, &pa.StartTime, &pa.EndTime); err != nil {
			return nil, err
		}
		result = append(result, pa)
	}
	return result, rows.Err()
}

// Cancellations

func (s *pgStore) CreateCancellation(ctx context.Context, appointmentID int64, reason *string, cancelledAt time.Time) (*Cancellation, error) {
	row := s.q.QueryRow(ctx, `
		INSERT INTO cancellations (appointment_id, reason, cancelled_at)
		VALUES ($1, $2, $3)
		RETURNING id, appointment_id, reason, cancelled_at
	`, appointmentID, reason, cancelledAt)
	c, err := scanCancellation(row)
	if err != nil {
		// UNIQUE(appointment_id): a concurrent cancel committed first.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrAlreadyCancelled
		}
		return nil, err
	}
	return c, nil
}

func (s *pgStore) GetCancellation(ctx context.Context, id int64) (*Cancellation, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, appointment_id, reason, cancelled_at
		FROM cancellations
		WHERE id = $1
	`, id)
	return scanCancellation(row)
}

func (s *pgStore) GetCancellationByAppointment(ctx context.Context, appointmentID int64) (*Cancellation, error) {
	row := s.q.QueryRow(ctx, `
		SELECT id, appointment_id, reason, cancelled_at
		FROM cancellations
		WHERE appointment_id = $1
	`, appointmentID)
	return scanCancellation(row)
}

func (s *pgStore) UpdateCancellationReason(ctx context.Context, id int64, reason string) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE cancellations
		SET reason = $2
		WHERE id = $1
	`, id, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCancellationNotFound
	}
	return nil
}

func (s *pgStore) ListCancellations(ctx context.Context) ([]Cancellation, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, appointment_id, reason, cancelled_at
		FROM cancellations
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Cancellation
	for rows.Next() {
		c, err := scanCancellation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

// Reporting

func (s *pgStore) SearchAvailability(ctx context.Context, f AvailabilityFilter) ([]DoctorAvailability, error) {
	rows, err := s.q.Query(ctx, `
		SELECT d.id, d.name, d.specialty,
		       count(s.id),
		       coalesce(sum(CASE WHEN s.is_available THEN 1 ELSE 0 END), 0),
		       coalesce(min(s.date)::text, ''),
		       coalesce(max(s.date)::text, '')
		FROM doctors d
		LEFT JOIN appointment_slots s
		  ON s.doctor_id = d.id
		 AND ($3 = '' OR s.date >= $3::date)
		 AND ($4 = '' OR s.date <= $4::date)
		WHERE ($1 = '' OR d.specialty ILIKE '%' || $1 || '%')
		  AND ($2 = '' OR d.name ILIKE '%' || $2 || '%')
		GROUP BY d.id, d.name, d.specialty
		ORDER BY d.id
	`, f.Specialty, f.DoctorName, f.StartDate, f.EndDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []DoctorAvailability
	for rows.Next() {
		var da DoctorAvailability
		err := rows.Scan(&da.DoctorID, &da.DoctorName, &da.Specialty,
			&da.TotalSlots, &da.AvailableSlots, &da.EarliestDate, &da.LatestDate)
		if err != nil {
			return nil, err
		}
		result = append(result, da)
	}
	return result, rows.Err()
}

func (s *pgStore) CapacityReport(ctx context.Context, r DateRange) ([]DoctorCapacity, error) {
	rows, err := s.q.Query(ctx, `
		SELECT d.id, d.name, d.specialty,
		       count(DISTINCT s.id),
		       coalesce(sum(CASE WHEN s.is_available THEN 1 ELSE 0 END), 0),
		       coalesce(sum(CASE WHEN NOT s.is_available THEN 1 ELSE 0 END), 0),
		       count(a.id)
		FROM doctors d
		LEFT JOIN appointment_slots s
		  ON s.doctor_id = d.id
		 AND ($1 = '' OR s.date >= $1::date)
		 AND ($2 = '' OR s.date <= $2::date)
		LEFT JOIN appointments a ON a.slot_id = s.id
		GROUP BY d.id, d.name, d.specialty
		ORDER BY d.id
	`, r.StartDate, r.EndDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []DoctorCapacity
	for rows.Next() {
		var dc DoctorCapacity
		err := rows.Scan(&dc.DoctorID, &dc.DoctorName, &dc.Specialty,
			&dc.TotalSlots, &dc.AvailableSlots, &dc.BookedSlots, &dc.Appointments)
		if err != nil {
			return nil, err
		}
		if dc.TotalSlots > 0 {
			dc.UtilizationRate = float64(dc.BookedSlots) / float64(dc.TotalSlots) * 100
		}
		result = append(result, dc)
	}
	return result, rows.Err()
}
