package clinic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	redisclient "github.com/clinickit/clinic-scheduling/internal/redisclient"
)

var (
	ErrSlotUnavailable        = errors.New("slot is not available")
	ErrSlotContended          = errors.New("slot is currently being booked, please retry")
	ErrAlreadyCancelled       = errors.New("appointment has already been cancelled")
	ErrCannotModifyCancelled  = errors.New("cannot modify a cancelled appointment")
	ErrDoctorHasSlots         = errors.New("doctor has slots and cannot be deleted")
	ErrPatientHasAppointments = errors.New("patient has appointments and cannot be deleted")
	ErrSlotHasAppointments    = errors.New("slot has appointments and cannot be deleted")
	ErrSlotBooked             = errors.New("slot is booked and cannot be modified")
	ErrInvalidInput           = errors.New("invalid input")
)

// DefaultCancelReason is recorded when the caller gives no reason.
const DefaultCancelReason = "Appointment cancelled"

// Table and action names used in the change feed.
const (
	TableDoctors       = "doctors"
	TablePatients      = "patients"
	TableSlots         = "appointment_slots"
	TableAppointments  = "appointments"
	TableCancellations = "cancellations"

	ActionInsert = "INSERT"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

// ChangeRecorder appends entries to the change feed after a successful
// mutation. Implementations must be best-effort: a failed append is logged,
// never surfaced to the caller.
type ChangeRecorder interface {
	Record(ctx context.Context, table, action string, recordID int64)
}

// Service implements the scheduling core: booking, cancellation, rebooking
// and the referential-integrity guards. All multi-statement effects run in
// one transaction; the slot row is the unit of mutual exclusion, serialized
// by a row lock inside the transaction and, when a locker is configured, a
// per-slot Redis lock in front of it.
type Service struct {
	repo     Repository
	locker   redisclient.Locker // optional, nil means rely on row locks alone
	recorder ChangeRecorder     // optional
	log      zerolog.Logger
}

func NewService(repo Repository, locker redisclient.Locker, recorder ChangeRecorder, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		locker:   locker,
		recorder: recorder,
		log:      log,
	}
}

func (s *Service) record(ctx context.Context, table, action string, recordID int64) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(ctx, table, action, recordID)
}

// withSlotLock serializes fn on the given slot when a locker is configured.
func (s *Service) withSlotLock(ctx context.Context, slotID int64, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	err := s.locker.WithSlotLock(ctx, slotID, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrSlotContended
	}
	return err
}

// Book reserves an available slot for a patient: one transaction inserts the
// appointment and flips the slot to unavailable. Exactly one of two
// concurrent calls on the same slot can succeed; the loser sees
// ErrSlotUnavailable once the winner commits.
func (s *Service) Book(ctx context.Context, patientID, slotID int64) (*Appointment, error) {
	var appt *Appointment

	err := s.withSlotLock(ctx, slotID, func(ctx context.Context) error {
		return s.repo.InTx(ctx, func(st Store) error {
			slot, err := st.GetSlotForUpdate(ctx, slotID)
			if err != nil {
				return err
			}
			if !slot.IsAvailable {
				return ErrSlotUnavailable
			}

			if _, err := st.GetPatient(ctx, patientID); err != nil {
				return err
			}

			a, err := st.CreateAppointment(ctx, patientID, slotID, time.Now())
			if err != nil {
				return fmt.Errorf("create appointment: %w", err)
			}
			if err := st.SetSlotAvailability(ctx, slotID, false); err != nil {
				return fmt.Errorf("claim slot: %w", err)
			}

			appt = a
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("appointment_id", appt.ID).
		Int64("patient_id", patientID).
		Int64("slot_id", slotID).
		Msg("appointment booked")

	s.record(ctx, TableAppointments, ActionInsert, appt.ID)
	s.record(ctx, TableSlots, ActionUpdate, slotID)
	return appt, nil
}

// Cancel voids an appointment: it records a cancellation, optionally hard
// deletes the appointment row, and releases the slot. A second cancel for
// the same appointment always fails with ErrAlreadyCancelled and never
// touches the slot again. The appointment row is locked first, so the slot
// id is read after any concurrent reschedule has committed and the slot the
// appointment actually holds is the one released.
func (s *Service) Cancel(ctx context.Context, appointmentID int64, reason string, hardDelete bool) (*CancelResult, error) {
	if strings.TrimSpace(reason) == "" {
		reason = DefaultCancelReason
	}

	var res *CancelResult
	err := s.repo.InTx(ctx, func(st Store) error {
		appt, err := st.GetAppointmentForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}

		if _, err := st.GetCancellationByAppointment(ctx, appointmentID); err == nil {
			return ErrAlreadyCancelled
		} else if !errors.Is(err, ErrCancellationNotFound) {
			return err
		}

		c, err := st.CreateCancellation(ctx, appointmentID, &reason, time.Now())
		if err != nil {
			return fmt.Errorf("create cancellation: %w", err)
		}

		if hardDelete {
			if err := st.DeleteAppointment(ctx, appointmentID); err != nil {
				return fmt.Errorf("delete appointment: %w", err)
			}
		}

		if err := st.SetSlotAvailability(ctx, appt.SlotID, true); err != nil {
			return fmt.Errorf("release slot: %w", err)
		}

		res = &CancelResult{
			CancellationID:     c.ID,
			SlotID:             appt.SlotID,
			AppointmentDeleted: hardDelete,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Int64("appointment_id", appointmentID).
		Int64("cancellation_id", res.CancellationID).
		Int64("slot_id", res.SlotID).
		Bool("hard_delete", hardDelete).
		Msg("appointment cancelled")

	s.record(ctx, TableCancellations, ActionInsert, res.CancellationID)
	if hardDelete {
		s.record(ctx, TableAppointments, ActionDelete, appointmentID)
	}
	s.record(ctx, TableSlots, ActionUpdate, res.SlotID)
	return res, nil
}

// CheckCancelled reports whether an appointment has been voided. Pure read.
func (s *Service) CheckCancelled(ctx context.Context, appointmentID int64) (*CancellationStatus, error) {
	c, err := s.repo.GetCancellationByAppointment(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, ErrCancellationNotFound) {
			return &CancellationStatus{IsCancelled: false}, nil
		}
		return nil, err
	}
	return &CancellationStatus{IsCancelled: true, Cancellation: c}, nil
}

// Reschedule moves an appointment to a new patient and/or slot. The
// appointment row is locked so concurrent cancels and reschedules of the
// same appointment queue up behind it. When the slot changes, the old slot
// is released and the new one claimed in the same transaction, in that
// order, so an abort restores everything.
func (s *Service) Reschedule(ctx context.Context, appointmentID, patientID, slotID int64) error {
	err := s.withSlotLock(ctx, slotID, func(ctx context.Context) error {
		return s.repo.InTx(ctx, func(st Store) error {
			appt, err := st.GetAppointmentForUpdate(ctx, appointmentID)
			if err != nil {
				return err
			}

			if _, err := st.GetCancellationByAppointment(ctx, appointmentID); err == nil {
				return ErrCannotModifyCancelled
			} else if !errors.Is(err, ErrCancellationNotFound) {
				return err
			}

			if _, err := st.GetPatient(ctx, patientID); err != nil {
				return err
			}

			if slotID != appt.SlotID {
				newSlot, err := st.GetSlotForUpdate(ctx, slotID)
				if err != nil {
					return err
				}
				if !newSlot.IsAvailable {
					return ErrSlotUnavailable
				}

				if err := st.SetSlotAvailability(ctx, appt.SlotID, true); err != nil {
					return fmt.Errorf("release old slot: %w", err)
				}
				if err := st.SetSlotAvailability(ctx, slotID, false); err != nil {
					return fmt.Errorf("claim new slot: %w", err)
				}
			}

			return st.UpdateAppointment(ctx, appointmentID, patientID, slotID, time.Now())
		})
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Int64("appointment_id", appointmentID).
		Int64("patient_id", patientID).
		Int64("slot_id", slotID).
		Msg("appointment rescheduled")

	s.record(ctx, TableAppointments, ActionUpdate, appointmentID)
	s.record(ctx, TableSlots, ActionUpdate, slotID)
	return nil
}

// DeleteAppointment hard deletes an appointment and releases its slot,
// without leaving a cancellation record. Callers who want an audit trail use
// Cancel with hardDelete instead.
func (s *Service) DeleteAppointment(ctx context.Context, appointmentID int64) error {
	var slotID int64
	err := s.repo.InTx(ctx, func(st Store) error {
		appt, err := st.GetAppointmentForUpdate(ctx, appointmentID)
		if err != nil {
			return err
		}
		slotID = appt.SlotID

		if err := st.DeleteAppointment(ctx, appointmentID); err != nil {
			return err
		}
		if err := st.SetSlotAvailability(ctx, appt.SlotID, true); err != nil {
			return fmt.Errorf("release slot: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Int64("appointment_id", appointmentID).
		Int64("slot_id", slotID).
		Msg("appointment deleted, slot released")

	s.record(ctx, TableAppointments, ActionDelete, appointmentID)
	s.record(ctx, TableSlots, ActionUpdate, slotID)
	return nil
}

// Doctors

func (s *Service) CreateDoctor(ctx context.Context, name, specialty string) (*Doctor, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(specialty) == "" {
		return nil, fmt.Errorf("%w: specialty is required", ErrInvalidInput)
	}

	d, err := s.repo.CreateDoctor(ctx, name, specialty)
	if err != nil {
		return nil, err
	}
	s.record(ctx, TableDoctors, ActionInsert, d.ID)
	return d, nil
}

func (s *Service) GetDoctor(ctx context.Context, id int64) (*Doctor, error) {
	return s.repo.GetDoctor(ctx, id)
}

func (s *Service) UpdateDoctor(ctx context.Context, id int64, name, specialty string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if err := s.repo.UpdateDoctor(ctx, id, name, specialty); err != nil {
		return err
	}
	s.record(ctx, TableDoctors, ActionUpdate, id)
	return nil
}

// DeleteDoctor refuses to delete a doctor who still owns slots. The check
// and the delete run in the same transaction.
func (s *Service) DeleteDoctor(ctx context.Context, id int64) error {
	err := s.repo.InTx(ctx, func(st Store) error {
		if _, err := st.GetDoctor(ctx, id); err != nil {
			return err
		}
		n, err := st.CountSlotsByDoctor(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrDoctorHasSlots
		}
		return st.DeleteDoctor(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, TableDoctors, ActionDelete, id)
	return nil
}

func (s *Service) ListDoctors(ctx context.Context) ([]Doctor, error) {
	return s.repo.ListDoctors(ctx)
}

// Patients

func (s *Service) CreatePatient(ctx context.Context, name, email string) (*Patient, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: email is malformed", ErrInvalidInput)
	}

	p, err := s.repo.CreatePatient(ctx, name, email)
	if err != nil {
		return nil, err
	}
	s.record(ctx, TablePatients, ActionInsert, p.ID)
	return p, nil
}

func (s *Service) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	return s.repo.GetPatient(ctx, id)
}

func (s *Service) UpdatePatient(ctx context.Context, id int64, name, email string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if err := s.repo.UpdatePatient(ctx, id, name, email); err != nil {
		return err
	}
	s.record(ctx, TablePatients, ActionUpdate, id)
	return nil
}

func (s *Service) DeletePatient(ctx context.Context, id int64) error {
	err := s.repo.InTx(ctx, func(st Store) error {
		if _, err := st.GetPatient(ctx, id); err != nil {
			return err
		}
		n, err := st.CountAppointmentsByPatient(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrPatientHasAppointments
		}
		return st.DeletePatient(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, TablePatients, ActionDelete, id)
	return nil
}

func (s *Service) ListPatients(ctx context.Context) ([]Patient, error) {
	return s.repo.ListPatients(ctx)
}

func (s *Service) ListPatientAppointments(ctx context.Context, patientID int64) ([]PatientAppointment, error) {
	if _, err := s.repo.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}
	return s.repo.ListPatientAppointments(ctx, patientID)
}

// Slots

func (s *Service) CreateSlot(ctx context.Context, doctorID int64, date, startTime, endTime string) (*AppointmentSlot, error) {
	if err := validateSlotTimes(date, startTime, endTime); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	slot, err := s.repo.CreateSlot(ctx, doctorID, date, startTime, endTime)
	if err != nil {
		return nil, err
	}
	s.record(ctx, TableSlots, ActionInsert, slot.ID)
	return slot, nil
}

func (s *Service) GetSlot(ctx context.Context, id int64) (*AppointmentSlot, error) {
	return s.repo.GetSlot(ctx, id)
}

// UpdateSlot moves a slot's date or time range. Only permitted while the
// slot is available, so a booked patient's slot can never silently move.
func (s *Service) UpdateSlot(ctx context.Context, id int64, date, startTime, endTime string) error {
	if err := validateSlotTimes(date, startTime, endTime); err != nil {
		return err
	}

	err := s.repo.InTx(ctx, func(st Store) error {
		slot, err := st.GetSlotForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !slot.IsAvailable {
			return ErrSlotBooked
		}
		return st.UpdateSlotTimes(ctx, id, date, startTime, endTime)
	})
	if err != nil {
		return err
	}
	s.record(ctx, TableSlots, ActionUpdate, id)
	return nil
}

func (s *Service) DeleteSlot(ctx context.Context, id int64) error {
	err := s.repo.InTx(ctx, func(st Store) error {
		if _, err := st.GetSlot(ctx, id); err != nil {
			return err
		}
		n, err := st.CountAppointmentsBySlot(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrSlotHasAppointments
		}
		return st.DeleteSlot(ctx, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, TableSlots, ActionDelete, id)
	return nil
}

func (s *Service) ListSlots(ctx context.Context, doctorID int64, availableOnly bool) ([]AppointmentSlot, error) {
	return s.repo.ListSlots(ctx, doctorID, availableOnly)
}

// Appointments and cancellations, read side

func (s *Service) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	return s.repo.GetAppointment(ctx, id)
}

func (s *Service) ListAppointments(ctx context.Context) ([]Appointment, error) {
	return s.repo.ListAppointments(ctx)
}

func (s *Service) ListCancellations(ctx context.Context) ([]Cancellation, error) {
	return s.repo.ListCancellations(ctx)
}

// UpdateCancellationReason corrects the reason text of an existing
// cancellation. Nothing else about a cancellation is mutable.
func (s *Service) UpdateCancellationReason(ctx context.Context, id int64, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("%w: reason is required", ErrInvalidInput)
	}
	if err := s.repo.UpdateCancellationReason(ctx, id, reason); err != nil {
		return err
	}
	s.record(ctx, TableCancellations, ActionUpdate, id)
	return nil
}

// Reporting

func (s *Service) SearchAvailability(ctx context.Context, f AvailabilityFilter) ([]DoctorAvailability, error) {
	return s.repo.SearchAvailability(ctx, f)
}

func (s *Service) CapacityReport(ctx context.Context, r DateRange) ([]DoctorCapacity, error) {
	return s.repo.CapacityReport(ctx, r)
}

func validateSlotTimes(date, startTime, endTime string) error {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput)
	}
	start, err := parseClock(startTime)
	if err != nil {
		return fmt.Errorf("%w: start_time must be HH:MM or HH:MM:SS", ErrInvalidInput)
	}
	end, err := parseClock(endTime)
	if err != nil {
		return fmt.Errorf("%w: end_time must be HH:MM or HH:MM:SS", ErrInvalidInput)
	}
	if !start.Before(end) {
		return fmt.Errorf("%w: start_time must be before end_time", ErrInvalidInput)
	}
	return nil
}

func parseClock(v string) (time.Time, error) {
	if t, err := time.Parse("15:04:05", v); err == nil {
		return t, nil
	}
	return time.Parse("15:04", v)
}
