package clinic

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDoctorNotFound       = errors.New("doctor not found")
	ErrPatientNotFound      = errors.New("patient not found")
	ErrSlotNotFound         = errors.New("slot not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrCancellationNotFound = errors.New("cancellation not found")

	// ErrTxFailed wraps store-level aborts (deadlock, lock timeout, broken
	// connection). It is the only retryable kind; everything else is a
	// permanent answer for the given input.
	ErrTxFailed = errors.New("transaction failed")
)

// Store is the row-level persistence surface. The same set of operations is
// available on the bare pool and inside a transaction.
type Store interface {
	CreateDoctor(ctx context.Context, name, specialty string) (*Doctor, error)
	GetDoctor(ctx context.Context, id int64) (*Doctor, error)
	UpdateDoctor(ctx context.Context, id int64, name, specialty string) error
	DeleteDoctor(ctx context.Context, id int64) error
	ListDoctors(ctx context.Context) ([]Doctor, error)
	CountSlotsByDoctor(ctx context.Context, doctorID int64) (int, error)

	CreatePatient(ctx context.Context, name, email string) (*Patient, error)
	GetPatient(ctx context.Context, id int64) (*Patient, error)
	UpdatePatient(ctx context.Context, id int64, name, email string) error
	DeletePatient(ctx context.Context, id int64) error
	ListPatients(ctx context.Context) ([]Patient, error)
	CountAppointmentsByPatient(ctx context.Context, patientID int64) (int, error)

	CreateSlot(ctx context.Context, doctorID int64, date, startTime, endTime string) (*AppointmentSlot, error)
	GetSlot(ctx context.Context, id int64) (*AppointmentSlot, error)
	// GetSlotForUpdate locks the slot row for the rest of the transaction.
	GetSlotForUpdate(ctx context.Context, id int64) (*AppointmentSlot, error)
	UpdateSlotTimes(ctx context.Context, id int64, date, startTime, endTime string) error
	SetSlotAvailability(ctx context.Context, id int64, available bool) error
	DeleteSlot(ctx context.Context, id int64) error
	ListSlots(ctx context.Context, doctorID int64, availableOnly bool) ([]AppointmentSlot, error)
	CountAppointmentsBySlot(ctx context.Context, slotID int64) (int, error)

	CreateAppointment(ctx context.Context, patientID, slotID int64, bookedAt time.Time) (*Appointment, error)
	GetAppointment(ctx context.Context, id int64) (*Appointment, error)
	// GetAppointmentForUpdate locks the appointment row for the rest of the
	// transaction, so cancel, reschedule and delete serialize per appointment.
	GetAppointmentForUpdate(ctx context.Context, id int64) (*Appointment, error)
	UpdateAppointment(ctx context.Context, id, patientID, slotID int64, bookedAt time.Time) error
	DeleteAppointment(ctx context.Context, id int64) error
	ListAppointments(ctx context.Context) ([]Appointment, error)
	ListPatientAppointments(ctx context.Context, patientID int64) ([]PatientAppointment, error)

	CreateCancellation(ctx context.Context, appointmentID int64, reason *string, cancelledAt time.Time) (*Cancellation, error)
	GetCancellation(ctx context.Context, id int64) (*Cancellation, error)
	GetCancellationByAppointment(ctx context.Context, appointmentID int64) (*Cancellation, error)
	UpdateCancellationReason(ctx context.Context, id int64, reason string) error
	ListCancellations(ctx context.Context) ([]Cancellation, error)

	SearchAvailability(ctx context.Context, f AvailabilityFilter) ([]DoctorAvailability, error)
	CapacityReport(ctx context.Context, r DateRange) ([]DoctorCapacity, error)
}

// Repository adds transaction scoping on top of Store. The fn receives a
// Store bound to the open transaction; returning an error rolls everything
// back, returning nil commits.
type Repository interface {
	Store
	InTx(ctx context.Context, fn func(Store) error) error
}
