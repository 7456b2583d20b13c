// Package clinictest provides an in-memory Repository for tests. InTx takes
// a snapshot of the whole state and restores it when the callback fails, so
// rollback behavior can be exercised without a database.
package clinictest

import (
	"context"
	"sync"
	"time"

	"github.com/clinickit/clinic-scheduling/internal/clinic"
)

type state struct {
	nextID        int64
	doctors       map[int64]clinic.Doctor
	patients      map[int64]clinic.Patient
	slots         map[int64]clinic.AppointmentSlot
	appointments  map[int64]clinic.Appointment
	cancellations map[int64]clinic.Cancellation

	// Failure injection for atomicity tests. The named operation fails once
	// with ErrInjected, then the flag clears.
	failUpdateAppointment   bool
	failSetSlotAvailability bool
}

func newState() *state {
	return &state{
		doctors:       make(map[int64]clinic.Doctor),
		patients:      make(map[int64]clinic.Patient),
		slots:         make(map[int64]clinic.AppointmentSlot),
		appointments:  make(map[int64]clinic.Appointment),
		cancellations: make(map[int64]clinic.Cancellation),
	}
}

func (s *state) clone() *state {
	c := newState()
	c.nextID = s.nextID
	c.failUpdateAppointment = s.failUpdateAppointment
	c.failSetSlotAvailability = s.failSetSlotAvailability
	for k, v := range s.doctors {
		c.doctors[k] = v
	}
	for k, v := range s.patients {
		c.patients[k] = v
	}
	for k, v := range s.slots {
		c.slots[k] = v
	}
	for k, v := range s.appointments {
		c.appointments[k] = v
	}
	for k, v := range s.cancellations {
		c.cancellations[k] = v
	}
	return c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// MemRepository is a clinic.Repository backed by maps. A single mutex
// serializes transactions, which matches the per-row serialization the real
// store provides for the slot flag.
type MemRepository struct {
	mu sync.Mutex
	st *state
}

var _ clinic.Repository = (*MemRepository)(nil)

func NewMemRepository() *MemRepository {
	return &MemRepository{st: newState()}
}

// FailNextUpdateAppointment makes the next UpdateAppointment call fail, for
// rollback tests.
func (r *MemRepository) FailNextUpdateAppointment() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.st.failUpdateAppointment = true
}

// FailNextSetSlotAvailability makes the next SetSlotAvailability call fail.
func (r *MemRepository) FailNextSetSlotAvailability() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.st.failSetSlotAvailability = true
}

func (r *MemRepository) InTx(ctx context.Context, fn func(clinic.Store) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.st.clone()
	if err := fn(r.st); err != nil {
		r.st = snapshot
		return err
	}
	return nil
}

func (r *MemRepository) locked(fn func(*state) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.st)
}

// Store methods outside a transaction take the same mutex per call.

func (r *MemRepository) CreateDoctor(ctx context.Context, name, specialty string) (d *clinic.Doctor, err error) {
	err = r.locked(func(s *state) error { d, err = s.CreateDoctor(ctx, name, specialty); return err })
	return
}

func (r *MemRepository) GetDoctor(ctx context.Context, id int64) (d *clinic.Doctor, err error) {
	err = r.locked(func(s *state) error { d, err = s.GetDoctor(ctx, id); return err })
	return
}

func (r *MemRepository) UpdateDoctor(ctx context.Context, id int64, name, specialty string) error {
	return r.locked(func(s *state) error { return s.UpdateDoctor(ctx, id, name, specialty) })
}

func (r *MemRepository) DeleteDoctor(ctx context.Context, id int64) error {
	return r.locked(func(s *state) error { return s.DeleteDoctor(ctx, id) })
}

func (r *MemRepository) ListDoctors(ctx context.Context) (out []clinic.Doctor, err error) {
	err = r.locked(func(s *state) error { out, err = s.ListDoctors(ctx); return err })
	return
}

func (r *MemRepository) CountSlotsByDoctor(ctx context.Context, doctorID int64) (n int, err error) {
	err = r.locked(func(s *state) error { n, err = s.CountSlotsByDoctor(ctx, doctorID); return err })
	return
}

func (r *MemRepository) CreatePatient(ctx context.Context, name, email string) (p *clinic.Patient, err error) {
	err = r.locked(func(s *state) error { p, err = s.CreatePatient(ctx, name, email); return err })
	return
}

func (r *MemRepository) GetPatient(ctx context.Context, id int64) (p *clinic.Patient, err error) {
	err = r.locked(func(s *state) error { p, err = s.GetPatient(ctx, id); return err })
	return
}

func (r *MemRepository) UpdatePatient(ctx context.Context, id int64, name, email string) error {
	return r.locked(func(s *state) error { return s.UpdatePatient(ctx, id, name, email) })
}

func (r *MemRepository) DeletePatient(ctx context.Context, id int64) error {
	return r.locked(func(s *state) error { return s.DeletePatient(ctx, id) })
}

func (r *MemRepository) ListPatients(ctx context.Context) (out []clinic.Patient, err error) {
	err = r.locked(func(s *state) error { out, err = s.ListPatients(ctx); return err })
	return
}

func (r *MemRepository) CountAppointmentsByPatient(ctx context.Context, patientID int64) (n int, err error) {
	err = r.locked(func(s *state) error { n, err = s.CountAppointmentsByPatient(ctx, patientID); return err })
	return
}

func (r *MemRepository) CreateSlot(ctx context.Context, doctorID int64, date, startTime, endTime string) (sl *clinic.AppointmentSlot, err error) {
	err = r.locked(func(s *state) error { sl, err = s.CreateSlot(ctx, doctorID, date, startTime, endTime); return err })
	return
}

func (r *MemRepository) GetSlot(ctx context.Context, id int64) (sl *clinic.AppointmentSlot, err error) {
	err = r.locked(func(s *state) error { sl, err = s.GetSlot(ctx, id); return err })
	return
}

func (r *MemRepository) GetSlotForUpdate(ctx context.Context, id int64) (sl *clinic.AppointmentSlot, err error) {
	err = r.locked(func(s *state) error { sl, err = s.GetSlotForUpdate(ctx, id); return err })
	return
}

func (r *MemRepository) UpdateSlotTimes(ctx context.Context, id int64, date, startTime, endTime string) error {
	return r.locked(func(s *state) error { return s.UpdateSlotTimes(ctx, id, date, startTime, endTime) })
}

func (r *MemRepository) SetSlotAvailability(ctx context.Context, id int64, available bool) error {
	return r.locked(func(s *state) error { return s.SetSlotAvailability(ctx, id, available) })
}

func (r *MemRepository) DeleteSlot(ctx context.Context, id int64) error {
	return r.locked(func(s *state) error { return s.DeleteSlot(ctx, id) })
}

func (r *MemRepository) ListSlots(ctx context.Context, doctorID int64, availableOnly bool) (out []clinic.AppointmentSlot, err error) {
	err = r.locked(func(s *state) error { out, err = s.ListSlots(ctx, doctorID, availableOnly); return err })
	return
}

func (r *MemRepository) CountAppointmentsBySlot(ctx context.Context, slotID int64) (n int, err error) {
	err = r.locked(func(s *state) error { n, err = s.CountAppointmentsBySlot(ctx, slotID); return err })
	return
}

func (r *MemRepository) CreateAppointment(ctx context.Context, patientID, slotID int64, bookedAt time.Time) (a *clinic.Appointment, err error) {
	err = r.locked(func(s *state) error { a, err = s.CreateAppointment(ctx, patientID, slotID, bookedAt); return err })
	return
}

func (r *MemRepository) GetAppointment(ctx context.Context, id int64) (a *clinic.Appointment, err error) {
	err = r.locked(func(s *state) error { a, err = s.GetAppointment(ctx, id); return err })
	return
}

func (r *MemRepository) GetAppointmentForUpdate(ctx context.Context, id int64) (a *clinic.Appointment, err error) {
	err = r.locked(func(s *state) error { a, err = s.GetAppointmentForUpdate(ctx, id); return err })
	return
}

func (r *MemRepository) UpdateAppointment(ctx context.Context, id, patientID, slotID int64, bookedAt time.Time) error {
	return r.locked(func(s *state) error { return s.UpdateAppointment(ctx, id, patientID, slotID, bookedAt) })
}

func (r *MemRepository) DeleteAppointment(ctx context.Context, id int64) error {
	return r.locked(func(s *state) error { return s.DeleteAppointment(ctx, id) })
}

func (r *MemRepository) ListAppointments(ctx context.Context) (out []clinic.Appointment, err error) {
	err = r.locked(func(s *state) error { out, err = s.ListAppointments(ctx); return err })
	return
}

func (r *MemRepository) ListPatientAppointments(ctx context.Context, patientID int64) (out []clinic.PatientAppointment, err error) {
	err = r.locked(func(s *state) error { out, err = s.ListPatientAppointments(ctx, patientID); return err })
	return
}

func (r *MemRepository) CreateCancellation(ctx context.Context, appointmentID int64, reason *string, cancelledAt time.Time) (c *clinic.Cancellation, err error) {
	err = r.locked(func(s *state) error { c, err = s.CreateCancellation(ctx, appointmentID, reason, cancelledAt); return err })
	return
}

func (r *MemRepository) GetCancellation(ctx context.Context, id int64) (c *clinic.Cancellation, err error) {
	err = r.locked(func(s *state) error { c, err = s.GetCancellation(ctx, id); return err })
	return
}

func (r *MemRepository) GetCancellationByAppointment(ctx context.Context, appointmentID int64) (c *clinic.Cancellation, err error) {
	err = r.locked(func(s *state) error { c, err = s.GetCancellationByAppointment(ctx, appointmentID); return err })
	return
}

func (r *MemRepository) UpdateCancellationReason(ctx context.Context, id int64, reason string) error {
	return r.locked(func(s *state) error { return s.UpdateCancellationReason(ctx, id, reason) })
}

func (r *MemRepository) ListCancellations(ctx context.Context) (out []clinic.Cancellation, err error) {
	err = r.locked(func(s *state) error { out, err = s.ListCancellations(ctx); return err })
	return
}

func (r *MemRepository) SearchAvailability(ctx context.Context, f clinic.AvailabilityFilter) (out []clinic.DoctorAvailability, err error) {
	err = r.locked(func(s *state) error { out, err = s.SearchAvailability(ctx, f); return err })
	return
}

func (r *MemRepository) CapacityReport(ctx context.Context, dr clinic.DateRange) (out []clinic.DoctorCapacity, err error) {
	err = r.locked(func(s *state) error { out, err = s.CapacityReport(ctx, dr); return err })
	return
}
