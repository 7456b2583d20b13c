package clinictest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/clinickit/clinic-scheduling/internal/clinic"
)

// ErrInjected is returned by operations armed via the FailNext helpers.
var ErrInjected = errors.New("injected store failure")

var _ clinic.Store = (*state)(nil)

// Doctors

func (s *state) CreateDoctor(ctx context.Context, name, specialty string) (*clinic.Doctor, error) {
	d := clinic.Doctor{ID: s.id(), Name: name, Specialty: specialty}
	s.doctors[d.ID] = d
	return &d, nil
}

func (s *state) GetDoctor(ctx context.Context, id int64) (*clinic.Doctor, error) {
	d, ok := s.doctors[id]
	if !ok {
		return nil, clinic.ErrDoctorNotFound
	}
	return &d, nil
}

func (s *state) UpdateDoctor(ctx context.Context, id int64, name, specialty string) error {
	d, ok := s.doctors[id]
	if !ok {
		return clinic.ErrDoctorNotFound
	}
	d.Name, d.Specialty = name, specialty
	s.doctors[id] = d
	return nil
}

func (s *state) DeleteDoctor(ctx context.Context, id int64) error {
	if _, ok := s.doctors[id]; !ok {
		return clinic.ErrDoctorNotFound
	}
	delete(s.doctors, id)
	return nil
}

func (s *state) ListDoctors(ctx context.Context) ([]clinic.Doctor, error) {
	out := make([]clinic.Doctor, 0, len(s.doctors))
	for _, d := range s.doctors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) CountSlotsByDoctor(ctx context.Context, doctorID int64) (int, error) {
	n := 0
	for _, sl := range s.slots {
		if sl.DoctorID == doctorID {
			n++
		}
	}
	return n, nil
}

// Patients

func (s *state) CreatePatient(ctx context.Context, name, email string) (*clinic.Patient, error) {
	p := clinic.Patient{ID: s.id(), Name: name, Email: email}
	s.patients[p.ID] = p
	return &p, nil
}

func (s *state) GetPatient(ctx context.Context, id int64) (*clinic.Patient, error) {
	p, ok := s.patients[id]
	if !ok {
		return nil, clinic.ErrPatientNotFound
	}
	return &p, nil
}

func (s *state) UpdatePatient(ctx context.Context, id int64, name, email string) error {
	p, ok := s.patients[id]
	if !ok {
		return clinic.ErrPatientNotFound
	}
	p.Name, p.Email = name, email
	s.patients[id] = p
	return nil
}

func (s *state) DeletePatient(ctx context.Context, id int64) error {
	if _, ok := s.patients[id]; !ok {
		return clinic.ErrPatientNotFound
	}
	delete(s.patients, id)
	return nil
}

func (s *state) ListPatients(ctx context.Context) ([]clinic.Patient, error) {
	out := make([]clinic.Patient, 0, len(s.patients))
	for _, p := range s.patients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) CountAppointmentsByPatient(ctx context.Context, patientID int64) (int, error) {
	n := 0
	for _, a := range s.appointments {
		if a.PatientID == patientID {
			n++
		}
	}
	return n, nil
}

// Slots

func (s *state) CreateSlot(ctx context.Context, doctorID int64, date, startTime, endTime string) (*clinic.AppointmentSlot, error) {
	sl := clinic.AppointmentSlot{
		ID:          s.id(),
		DoctorID:    doctorID,
		Date:        date,
		StartTime:   startTime,
		EndTime:     endTime,
		IsAvailable: true,
	}
	s.slots[sl.ID] = sl
	return &sl, nil
}

func (s *state) GetSlot(ctx context.Context, id int64) (*clinic.AppointmentSlot, error) {
	sl, ok := s.slots[id]
	if !ok {
		return nil, clinic.ErrSlotNotFound
	}
	return &sl, nil
}

func (s *state) GetSlotForUpdate(ctx context.Context, id int64) (*clinic.AppointmentSlot, error) {
	// The repository mutex already serializes transactions.
	return s.GetSlot(ctx, id)
}

func (s *state) UpdateSlotTimes(ctx context.Context, id int64, date, startTime, endTime string) error {
	sl, ok := s.slots[id]
	if !ok {
		return clinic.ErrSlotNotFound
	}
	sl.Date, sl.StartTime, sl.EndTime = date, startTime, endTime
	s.slots[id] = sl
	return nil
}

func (s *state) SetSlotAvailability(ctx context.Context, id int64, available bool) error {
	if s.failSetSlotAvailability {
		s.failSetSlotAvailability = false
		return ErrInjected
	}
	sl, ok := s.slots[id]
	if !ok {
		return clinic.ErrSlotNotFound
	}
	sl.IsAvailable = available
	s.slots[id] = sl
	return nil
}

func (s *state) DeleteSlot(ctx context.Context, id int64) error {
	if _, ok := s.slots[id]; !ok {
		return clinic.ErrSlotNotFound
	}
	delete(s.slots, id)
	return nil
}

func (s *state) ListSlots(ctx context.Context, doctorID int64, availableOnly bool) ([]clinic.AppointmentSlot, error) {
	out := make([]clinic.AppointmentSlot, 0)
	for _, sl := range s.slots {
		if doctorID != 0 && sl.DoctorID != doctorID {
			continue
		}
		if availableOnly && !sl.IsAvailable {
			continue
		}
		out = append(out, sl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) CountAppointmentsBySlot(ctx context.Context, slotID int64) (int, error) {
	n := 0
	for _, a := range s.appointments {
		if a.SlotID == slotID {
			n++
		}
	}
	return n, nil
}

// Appointments

func (s *state) CreateAppointment(ctx context.Context, patientID, slotID int64, bookedAt time.Time) (*clinic.Appointment, error) {
	a := clinic.Appointment{ID: s.id(), PatientID: patientID, SlotID: slotID, BookedAt: bookedAt}
	s.appointments[a.ID] = a
	return &a, nil
}

func (s *state) GetAppointment(ctx context.Context, id int64) (*clinic.Appointment, error) {
	a, ok := s.appointments[id]
	if !ok {
		return nil, clinic.ErrAppointmentNotFound
	}
	return &a, nil
}

func (s *state) GetAppointmentForUpdate(ctx context.Context, id int64) (*clinic.Appointment, error) {
	// The repository mutex already serializes transactions.
	return s.GetAppointment(ctx, id)
}

func (s *state) UpdateAppointment(ctx context.Context, id, patientID, slotID int64, bookedAt time.Time) error {
	if s.failUpdateAppointment {
		s.failUpdateAppointment = false
		return ErrInjected
	}
	a, ok := s.appointments[id]
	if !ok {
		return clinic.ErrAppointmentNotFound
	}
	a.PatientID, a.SlotID, a.BookedAt = patientID, slotID, bookedAt
	s.appointments[id] = a
	return nil
}

func (s *state) DeleteAppointment(ctx context.Context, id int64) error {
	if _, ok := s.appointments[id]; !ok {
		return clinic.ErrAppointmentNotFound
	}
	delete(s.appointments, id)
	return nil
}

func (s *state) ListAppointments(ctx context.Context) ([]clinic.Appointment, error) {
	out := make([]clinic.Appointment, 0, len(s.appointments))
	for _, a := range s.appointments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) ListPatientAppointments(ctx context.Context, patientID int64) ([]clinic.PatientAppointment, error) {
	var out []clinic.PatientAppointment
	for _, a := range s.appointments {
		if a.PatientID != patientID {
			continue
		}
		sl := s.slots[a.SlotID]
		d := s.doctors[sl.DoctorID]
		out = append(out, clinic.PatientAppointment{
			AppointmentID: a.ID,
			DoctorName:    d.Name,
			Date:          sl.Date,
			StartTime:     sl.StartTime,
			EndTime:       sl.EndTime,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

// Cancellations

func (s *state) CreateCancellation(ctx context.Context, appointmentID int64, reason *string, cancelledAt time.Time) (*clinic.Cancellation, error) {
	// Mirrors UNIQUE(appointment_id) on the cancellations table.
	for _, c := range s.cancellations {
		if c.AppointmentID == appointmentID {
			return nil, clinic.ErrAlreadyCancelled
		}
	}
	c := clinic.Cancellation{ID: s.id(), AppointmentID: appointmentID, Reason: reason, CancelledAt: cancelledAt}
	s.cancellations[c.ID] = c
	return &c, nil
}

func (s *state) GetCancellation(ctx context.Context, id int64) (*clinic.Cancellation, error) {
	c, ok := s.cancellations[id]
	if !ok {
		return nil, clinic.ErrCancellationNotFound
	}
	return &c, nil
}

func (s *state) GetCancellationByAppointment(ctx context.Context, appointmentID int64) (*clinic.Cancellation, error) {
	for _, c := range s.cancellations {
		if c.AppointmentID == appointmentID {
			return &c, nil
		}
	}
	return nil, clinic.ErrCancellationNotFound
}

func (s *state) UpdateCancellationReason(ctx context.Context, id int64, reason string) error {
	c, ok := s.cancellations[id]
	if !ok {
		return clinic.ErrCancellationNotFound
	}
	c.Reason = &reason
	s.cancellations[id] = c
	return nil
}

func (s *state) ListCancellations(ctx context.Context) ([]clinic.Cancellation, error) {
	out := make([]clinic.Cancellation, 0, len(s.cancellations))
	for _, c := range s.cancellations {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Reporting

func (s *state) SearchAvailability(ctx context.Context, f clinic.AvailabilityFilter) ([]clinic.DoctorAvailability, error) {
	var out []clinic.DoctorAvailability
	for _, d := range s.doctors {
		if f.Specialty != "" && !strings.Contains(strings.ToLower(d.Specialty), strings.ToLower(f.Specialty)) {
			continue
		}
		if f.DoctorName != "" && !strings.Contains(strings.ToLower(d.Name), strings.ToLower(f.DoctorName)) {
			continue
		}

		da := clinic.DoctorAvailability{DoctorID: d.ID, DoctorName: d.Name, Specialty: d.Specialty}
		for _, sl := range s.slots {
			if sl.DoctorID != d.ID {
				continue
			}
			if f.StartDate != "" && sl.Date < f.StartDate {
				continue
			}
			if f.EndDate != "" && sl.Date > f.EndDate {
				continue
			}
			da.TotalSlots++
			if sl.IsAvailable {
				da.AvailableSlots++
			}
			if da.EarliestDate == "" || sl.Date < da.EarliestDate {
				da.EarliestDate = sl.Date
			}
			if sl.Date > da.LatestDate {
				da.LatestDate = sl.Date
			}
		}
		out = append(out, da)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DoctorID < out[j].DoctorID })
	return out, nil
}

func (s *state) CapacityReport(ctx context.Context, r clinic.DateRange) ([]clinic.DoctorCapacity, error) {
	var out []clinic.DoctorCapacity
	for _, d := range s.doctors {
		dc := clinic.DoctorCapacity{DoctorID: d.ID, DoctorName: d.Name, Specialty: d.Specialty}
		for _, sl := range s.slots {
			if sl.DoctorID != d.ID {
				continue
			}
			if r.StartDate != "" && sl.Date < r.StartDate {
				continue
			}
			if r.EndDate != "" && sl.Date > r.EndDate {
				continue
			}
			dc.TotalSlots++
			if sl.IsAvailable {
				dc.AvailableSlots++
			} else {
				dc.BookedSlots++
			}
			n, _ := s.CountAppointmentsBySlot(ctx, sl.ID)
			dc.Appointments += n
		}
		if dc.TotalSlots > 0 {
			dc.UtilizationRate = float64(dc.BookedSlots) / float64(dc.TotalSlots) * 100
		}
		out = append(out, dc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DoctorID < out[j].DoctorID })
	return out, nil
}
