package clinic_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinickit/clinic-scheduling/internal/clinic"
	"github.com/clinickit/clinic-scheduling/internal/clinic/clinictest"
)

type recordedChange struct {
	Table  string
	Action string
	ID     int64
}

type captureRecorder struct {
	mu      sync.Mutex
	changes []recordedChange
}

func (c *captureRecorder) Record(ctx context.Context, table, action string, recordID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, recordedChange{Table: table, Action: action, ID: recordID})
}

func newTestService(t *testing.T) (*clinic.Service, *clinictest.MemRepository, *captureRecorder) {
	t.Helper()
	repo := clinictest.NewMemRepository()
	rec := &captureRecorder{}
	svc := clinic.NewService(repo, nil, rec, zerolog.Nop())
	return svc, repo, rec
}

// seedBooking creates a doctor, one slot and a patient, matching the
// smallest useful clinic.
func seedBooking(t *testing.T, svc *clinic.Service) (doctorID, slotID, patientID int64) {
	t.Helper()
	ctx := context.Background()

	doctor, err := svc.CreateDoctor(ctx, "Dr. Smith", "Cardiology")
	require.NoError(t, err)
	slot, err := svc.CreateSlot(ctx, doctor.ID, "2025-10-20", "10:00", "10:30")
	require.NoError(t, err)
	patient, err := svc.CreatePatient(ctx, "John Doe", "john@x.com")
	require.NoError(t, err)

	return doctor.ID, slot.ID, patient.ID
}

func TestBook(t *testing.T) {
	svc, _, rec := newTestService(t)
	ctx := context.Background()
	_, slotID, patientID := seedBooking(t, svc)

	appt, err := svc.Book(ctx, patientID, slotID)
	require.NoError(t, err)
	require.NotNil(t, appt)
	assert.Equal(t, patientID, appt.PatientID)
	assert.Equal(t, slotID, appt.SlotID)
	assert.WithinDuration(t, time.Now(), appt.BookedAt, time.Minute)

	slot, err := svc.GetSlot(ctx, slotID)
	require.NoError(t, err)
	assert.False(t, slot.IsAvailable, "booked slot must be unavailable")

	assert.Contains(t, rec.changes, recordedChange{Table: "appointments", Action: "INSERT", ID: appt.ID})
	assert.Contains(t, rec.changes, recordedChange{Table: "appointment_slots", Action: "UPDATE", ID: slotID})
}

func TestBook_SlotNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, _, patientID := seedBooking(t, svc)

	_, err := svc.Book(context.Background(), patientID, 9999)
	assert.ErrorIs(t, err, clinic.ErrSlotNotFound)
}

func TestBook_SlotAlreadyBooked(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, slotID, patientID := seedBooking(t, svc)

	_, err := svc.Book(ctx, patientID, slotID)
	require.NoError(t, err)

	_, err = svc.Book(ctx, patientID, slotID)
	assert.ErrorIs(t, err, clinic.ErrSlotUnavailable)
}

func TestBook_PatientNotFoundRollsBack(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, slotID, _ := seedBooking(t, svc)

	_, err := svc.Book(ctx, 9999, slotID)
	assert.ErrorIs(t, err, clinic.ErrPatientNotFound)

	slot, err := svc.GetSlot(ctx, slotID)
	require.NoError(t, err)
	assert.True(t, slot.IsAvailable, "failed booking must not claim the slot")

	appts, err := svc.ListAppointments(ctx)
	require.NoError(t, err)
	assert.Empty(t, appts)
}

func TestBook_ConcurrentSingleWinner(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, slotID, _ := seedBooking(t, svc)

	const callers = 8
	patients := make([]int64, callers)
	for i := range patients {
		p, err := svc.CreatePatient(ctx, "Patient", "p@x.com")
		require.NoError(t, err)
		patients[i] = p.ID
	}

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Book(ctx, patients[i], slotID)
		}(i)
	}
	wg.Wait()

	wins, losses := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		default:
			assert.ErrorIs(t, err, clinic.ErrSlotUnavailable)
			losses++
		}
	}
	assert.Equal(t, 1, wins, "exactly one booking may win")
	assert.Equal(t, callers-1, losses)

	appts, err := svc.ListAppointments(ctx)
	require.NoError(t, err)
	assert.Len(t, appts, 1)
}

func TestCancel_SoftKeepsAppointment(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, slotID, patientID := seedBooking(t, svc)

	appt, err := svc.Book(ctx, patientID, slotID)
	require.NoError(t, err)

	res, err := svc.Cancel(ctx, appt.ID, "Patient unavailable", false)
	require.NoError(t, err)
	assert.Equal(t, slotID, res.SlotID)
	assert.False(t, res.AppointmentDeleted)

	slot, err := svc.GetSlot(ctx, slotID)
	require.NoError(t, err)
	assert.True(t, slot.IsAvailable, "cancel must release the slot")

	// Soft cancel keeps the appointment row.
	_, err = svc.GetAppointment(ctx, appt.ID)
	assert.NoError(t, err)

	status, err := svc.CheckCancelled(ctx, appt.ID)
	require.NoError(t, err)
	assert.True(t, status.IsCancelled)
	require.NotNil(t, status.Cancellation)
	require.NotNil(t, status.Cancellation.Reason)
	assert.Equal(t, "Patient unavailable", *status.Cancellation.Reason)
}

func TestCancel_SecondCallRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, slotID, patientID := seedBooking(t, svc)

	appt, err := svc.Book(ctx, patientID, slotID)
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, appt.ID, "first", false)
	require.NoError(t, err)

	// Rebook the slot so a double release would be observable.
	appt2, err := svc.Book(ctx, patientID, slotID)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, appt.ID, "second", false)
	assert.ErrorIs(t, err, clinic.ErrAlreadyCancelled)

	slot, err := svc.GetSlot(ctx, slotID)
	require.NoError(t, err)
	assert.False(t, slot.IsAvailable, "rejected cancel must not re-release the slot")

	_, err = svc.GetAppointment(ctx, appt2.ID)
	assert.NoError(t, err)
}

func TestCancel_HardDelete(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, slotID, patientID := seedBooking(t, svc)

	appt, err := svc.Book(ctx, patientID, slotID)
	require.NoError(t, err)

	res, err := svc.Cancel(ctx, appt.ID, "", true)
	require.NoError(t, err)
	assert.True(t, res.AppointmentDeleted)

	_, err = svc.GetAppointment(ctx, appt.ID)
	assert.ErrorIs(t, err, clinic.ErrAppointmentNotFound)

	// The cancellation survives as the audit record, with the default reason.
	status, err := svc.CheckCancelled(ctx, appt.ID)
	require.NoError(t, err)
	assert.True(t, status.IsCancelled)
	require.NotNil(t, status.Cancellation.Reason)
	assert.Equal(t, clinic.DefaultCancelReason, *status.Cancellation.Reason)

	slot, err := svc.GetSlot(ctx, slotID)
	require.NoError(t, err)
	assert.True(t, slot.IsAvailable)
}

func TestCancel_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Cancel(context.Background(), 42, "", false)
	assert.ErrorIs(t, err, clinic.ErrAppointmentNotFound)
}

func TestCancel_ConcurrentDuplicates(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, slotID, patientID := seedBooking(t, svc)

	appt, err := svc.Book(ctx, patientID, slotID)
	require.NoError(t, err)

	const callers = 6
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Cancel(ctx, appt.ID, "dup", false)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, clinic.ErrAlreadyCancelled)
		}
	}
	assert.Equal(t, 1, wins, "exactly one cancel may succeed")

	cancellations, err := svc.ListCancellations(ctx)
	require.NoError(t, err)
	assert.Len(t, cancellations, 1)
}

func TestCheckCancelled_NotCancelled(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, slotID, patientID := seedBooking(t, svc)

	appt, err := svc.Book(ctx, patientID, slotID)
	require.NoError(t, err)

	status, err := svc.CheckCancelled(ctx, appt.ID)
	require.NoError(t, err)
	assert.False(t, status.IsCancelled)
	assert.Nil(t, status.Cancellation)
}

func TestReschedule_MovesSlot(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	doctorID, slotID, patientID := seedBooking(t, svc)

	newSlot, err := svc.CreateSlot(ctx, doctorID, "2025-10-21", "11:00", "11:30")
	require.NoError(t, err)

	appt, err := svc.Book(ctx, patientID, slotID)
	require.NoError(t, err)
	bookedAt := appt.BookedAt

	require.NoError(t, svc.Reschedule(ctx, appt.ID, patientID, newSlot.ID))

	oldSlot, err := svc.GetSlot(ctx, slotID)
	require.NoError(t, err)
	assert.True(t, oldSlot.IsAvailable, "old slot must be released")

	updatedNew, err := svc.GetSlot(ctx, newSlot.ID)
	require.NoError(t, err)
	assert.False(t, updatedNew.IsAvailable, "new slot must be claimed")

	updated, err := svc.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, newSlot.ID, updated.SlotID)
	assert.False(t, updated.BookedAt.Before(bookedAt))
}

func TestReschedule_SameSlotChangesPatient(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, slotID, patientID := seedBooking(t, svc)

	other, err := svc.CreatePatient(ctx, "Jane Roe", "jane@x.com")
	require.NoError(t, err)

	appt, err := svc.Book(ctx, patientID, slotID)
	require.NoError(t, err)

	require.NoError(t, svc.Reschedule(ctx, appt.ID, other.ID, slotID))

	updated, err := svc.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, other.ID, updated.PatientID)

	slot, err := svc.GetSlot(ctx, slotID)
	require.NoError(t, err)
	assert.False(t, slot.IsAvailable, "slot keeps its booking when unchanged")
}

func TestReschedule_CancelledAppointment(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	doctorID, slotID, patientID := seedBooking(t, svc)

	newSlot, err := svc.CreateSlot(ctx, doctorID, "2025-10-22", "09:00", "09:30")
	require.NoError(t, err)

	appt, err := svc.Book(ctx, patientID, slotID)
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, appt.ID, "", false)
	require.NoError(t, err)

	err = svc.Reschedule(ctx, appt.ID, patientID, newSlot.ID)
	assert.ErrorIs(t, err, clinic.ErrCannotModifyCancelled)
}

func TestReschedule_TargetUnavailable(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	doctorID, slotID, patientID := seedBooking(t, svc)

	takenSlot, err := svc.CreateSlot(ctx, doctorID, "2025-10-23", "09:00", "09:30")
	require.NoError(t, err)
	other, err := svc.CreatePatient(ctx, "Jane Roe", "jane@x.com")
	require.NoError(t, err)
	_, err = svc.Book(ctx, other.ID, takenSlot.ID)
	require.NoError(t, err)

	appt, err := svc.Book(ctx, patientID, slotID)
	require.NoError(t, err)

	err = svc.Reschedule(ctx, appt.ID, patientID, takenSlot.ID)
	assert.ErrorIs(t, err, clinic.ErrSlotUnavailable)

	// Nothing moved.
	oldSlot, err := svc.GetSlot(ctx, slotID)
	require.NoError(t, err)
	assert.False(t, oldSlot.IsAvailable)
	unchanged, err := svc.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, slotID, unchanged.SlotID)
}

func TestReschedule_AtomicRollback(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	doctorID, slotID, patientID := seedBooking(t, svc)

	newSlot, err := svc.CreateSlot(ctx, doctorID, "2025-10-24", "09:00", "09:30")
	require.NoError(t, err)

	appt, err := svc.Book(ctx, patientID, slotID)
	require.NoError(t, err)

	// Fail the final appointment update: both slot flips must be undone.
	repo.FailNextUpdateAppointment()
	err = svc.Reschedule(ctx, appt.ID, patientID, newSlot.ID)
	require.Error(t, err)

	oldSlot, err := svc.GetSlot(ctx, slotID)
	require.NoError(t, err)
	assert.False(t, oldSlot.IsAvailable, "old slot must stay claimed after rollback")

	target, err := svc.GetSlot(ctx, newSlot.ID)
	require.NoError(t, err)
	assert.True(t, target.IsAvailable, "new slot must stay free after rollback")

	unchanged, err := svc.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, slotID, unchanged.SlotID)
}

func TestDeleteAppointment(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, slotID, patientID := seedBooking(t, svc)

	appt, err := svc.Book(ctx, patientID, slotID)
	require.NoError(t, err)

	require.NoError(t, svc.DeleteAppointment(ctx, appt.ID))

	_, err = svc.GetAppointment(ctx, appt.ID)
	assert.ErrorIs(t, err, clinic.ErrAppointmentNotFound)

	slot, err := svc.GetSlot(ctx, slotID)
	require.NoError(t, err)
	assert.True(t, slot.IsAvailable)

	// No audit trail on the hard-delete path.
	status, err := svc.CheckCancelled(ctx, appt.ID)
	require.NoError(t, err)
	assert.False(t, status.IsCancelled)
}

func TestDeleteAppointment_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.DeleteAppointment(context.Background(), 42)
	assert.ErrorIs(t, err, clinic.ErrAppointmentNotFound)
}

func TestDeleteDoctor_Guard(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	doctorID, slotID, _ := seedBooking(t, svc)

	err := svc.DeleteDoctor(ctx, doctorID)
	assert.ErrorIs(t, err, clinic.ErrDoctorHasSlots)

	// Remove the dependent slot, then the doctor can go.
	require.NoError(t, svc.DeleteSlot(ctx, slotID))
	require.NoError(t, svc.DeleteDoctor(ctx, doctorID))

	_, err = svc.GetDoctor(ctx, doctorID)
	assert.ErrorIs(t, err, clinic.ErrDoctorNotFound)
}

func TestDeletePatient_Guard(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, slotID, patientID := seedBooking(t, svc)

	appt, err := svc.Book(ctx, patientID, slotID)
	require.NoError(t, err)

	err = svc.DeletePatient(ctx, patientID)
	assert.ErrorIs(t, err, clinic.ErrPatientHasAppointments)

	require.NoError(t, svc.DeleteAppointment(ctx, appt.ID))
	require.NoError(t, svc.DeletePatient(ctx, patientID))
}

func TestDeleteSlot_Guard(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, slotID, patientID := seedBooking(t, svc)

	_, err := svc.Book(ctx, patientID, slotID)
	require.NoError(t, err)

	err = svc.DeleteSlot(ctx, slotID)
	assert.ErrorIs(t, err, clinic.ErrSlotHasAppointments)
}

func TestUpdateSlot(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, slotID, patientID := seedBooking(t, svc)

	require.NoError(t, svc.UpdateSlot(ctx, slotID, "2025-10-25", "14:00", "14:30"))

	slot, err := svc.GetSlot(ctx, slotID)
	require.NoError(t, err)
	assert.Equal(t, "2025-10-25", slot.Date)

	// Once booked the slot may not move.
	_, err = svc.Book(ctx, patientID, slotID)
	require.NoError(t, err)
	err = svc.UpdateSlot(ctx, slotID, "2025-10-26", "15:00", "15:30")
	assert.ErrorIs(t, err, clinic.ErrSlotBooked)
}

func TestUpdateSlot_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, slotID, _ := seedBooking(t, svc)

	err := svc.UpdateSlot(ctx, slotID, "not-a-date", "10:00", "10:30")
	assert.ErrorIs(t, err, clinic.ErrInvalidInput)

	err = svc.UpdateSlot(ctx, slotID, "2025-10-25", "11:00", "10:30")
	assert.ErrorIs(t, err, clinic.ErrInvalidInput)
}

func TestCreateSlot_DoctorMissing(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.CreateSlot(context.Background(), 99, "2025-10-20", "10:00", "10:30")
	assert.ErrorIs(t, err, clinic.ErrDoctorNotFound)
}

func TestCreatePatient_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreatePatient(ctx, "", "a@x.com")
	assert.ErrorIs(t, err, clinic.ErrInvalidInput)

	_, err = svc.CreatePatient(ctx, "No Email", "nothing")
	assert.ErrorIs(t, err, clinic.ErrInvalidInput)
}

func TestUpdateCancellationReason(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, slotID, patientID := seedBooking(t, svc)

	appt, err := svc.Book(ctx, patientID, slotID)
	require.NoError(t, err)
	res, err := svc.Cancel(ctx, appt.ID, "typo resaon", false)
	require.NoError(t, err)

	require.NoError(t, svc.UpdateCancellationReason(ctx, res.CancellationID, "typo reason"))

	status, err := svc.CheckCancelled(ctx, appt.ID)
	require.NoError(t, err)
	require.NotNil(t, status.Cancellation.Reason)
	assert.Equal(t, "typo reason", *status.Cancellation.Reason)

	err = svc.UpdateCancellationReason(ctx, res.CancellationID, "  ")
	assert.ErrorIs(t, err, clinic.ErrInvalidInput)
}

func TestListPatientAppointments(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, slotID, patientID := seedBooking(t, svc)

	_, err := svc.Book(ctx, patientID, slotID)
	require.NoError(t, err)

	appts, err := svc.ListPatientAppointments(ctx, patientID)
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, "Dr. Smith", appts[0].DoctorName)
	assert.Equal(t, "2025-10-20", appts[0].Date)

	_, err = svc.ListPatientAppointments(ctx, 9999)
	assert.ErrorIs(t, err, clinic.ErrPatientNotFound)
}

func TestSearchAvailability(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	doctorID, slotID, patientID := seedBooking(t, svc)

	_, err := svc.CreateSlot(ctx, doctorID, "2025-10-21", "10:00", "10:30")
	require.NoError(t, err)
	_, err = svc.Book(ctx, patientID, slotID)
	require.NoError(t, err)

	results, err := svc.SearchAvailability(ctx, clinic.AvailabilityFilter{Specialty: "cardio"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, doctorID, results[0].DoctorID)
	assert.Equal(t, 2, results[0].TotalSlots)
	assert.Equal(t, 1, results[0].AvailableSlots)
	assert.Equal(t, "2025-10-20", results[0].EarliestDate)

	none, err := svc.SearchAvailability(ctx, clinic.AvailabilityFilter{Specialty: "dermatology"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCapacityReport(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	doctorID, slotID, patientID := seedBooking(t, svc)

	_, err := svc.CreateSlot(ctx, doctorID, "2025-10-21", "10:00", "10:30")
	require.NoError(t, err)
	_, err = svc.Book(ctx, patientID, slotID)
	require.NoError(t, err)

	report, err := svc.CapacityReport(ctx, clinic.DateRange{})
	require.NoError(t, err)
	require.Len(t, report, 1)
	assert.Equal(t, 2, report[0].TotalSlots)
	assert.Equal(t, 1, report[0].BookedSlots)
	assert.InDelta(t, 50.0, report[0].UtilizationRate, 0.01)
}

// interleavingRepo runs extra store work at the moment a transaction locks
// an appointment row, standing in for a concurrent transaction that
// committed just before the lock was granted.
type interleavingRepo struct {
	clinic.Repository
	onAppointmentLock func(clinic.Store)
}

func (r *interleavingRepo) InTx(ctx context.Context, fn func(clinic.Store) error) error {
	return r.Repository.InTx(ctx, func(st clinic.Store) error {
		is := &interleavingStore{Store: st}
		is.onAppointmentLock, r.onAppointmentLock = r.onAppointmentLock, nil
		return fn(is)
	})
}

type interleavingStore struct {
	clinic.Store
	onAppointmentLock func(clinic.Store)
}

func (s *interleavingStore) GetAppointmentForUpdate(ctx context.Context, id int64) (*clinic.Appointment, error) {
	if fn := s.onAppointmentLock; fn != nil {
		s.onAppointmentLock = nil
		fn(s.Store)
	}
	return s.Store.GetAppointmentForUpdate(ctx, id)
}

// seedRescheduleRace books an appointment on oldSlot and arms the repo so a
// reschedule onto newSlot lands right before the next appointment lock.
func seedRescheduleRace(t *testing.T, svc *clinic.Service, repo *interleavingRepo) (appt *clinic.Appointment, oldSlot, newSlot *clinic.AppointmentSlot) {
	t.Helper()
	ctx := context.Background()

	doctor, err := svc.CreateDoctor(ctx, "Dr. Smith", "Cardiology")
	require.NoError(t, err)
	oldSlot, err = svc.CreateSlot(ctx, doctor.ID, "2025-10-20", "10:00", "10:30")
	require.NoError(t, err)
	newSlot, err = svc.CreateSlot(ctx, doctor.ID, "2025-10-21", "11:00", "11:30")
	require.NoError(t, err)
	patient, err := svc.CreatePatient(ctx, "John Doe", "john@x.com")
	require.NoError(t, err)

	appt, err = svc.Book(ctx, patient.ID, oldSlot.ID)
	require.NoError(t, err)

	repo.onAppointmentLock = func(st clinic.Store) {
		require.NoError(t, st.SetSlotAvailability(ctx, oldSlot.ID, true))
		require.NoError(t, st.SetSlotAvailability(ctx, newSlot.ID, false))
		require.NoError(t, st.UpdateAppointment(ctx, appt.ID, patient.ID, newSlot.ID, time.Now()))
	}
	return appt, oldSlot, newSlot
}

func TestCancel_AfterConcurrentReschedule(t *testing.T) {
	repo := &interleavingRepo{Repository: clinictest.NewMemRepository()}
	svc := clinic.NewService(repo, nil, nil, zerolog.Nop())
	ctx := context.Background()

	appt, oldSlot, newSlot := seedRescheduleRace(t, svc, repo)

	res, err := svc.Cancel(ctx, appt.ID, "", false)
	require.NoError(t, err)
	assert.Equal(t, newSlot.ID, res.SlotID, "cancel must release the slot the appointment holds now")

	moved, err := svc.GetSlot(ctx, newSlot.ID)
	require.NoError(t, err)
	assert.True(t, moved.IsAvailable, "voided appointment must not leave its slot claimed")

	old, err := svc.GetSlot(ctx, oldSlot.ID)
	require.NoError(t, err)
	assert.True(t, old.IsAvailable)
}

func TestDeleteAppointment_AfterConcurrentReschedule(t *testing.T) {
	repo := &interleavingRepo{Repository: clinictest.NewMemRepository()}
	svc := clinic.NewService(repo, nil, nil, zerolog.Nop())
	ctx := context.Background()

	appt, oldSlot, newSlot := seedRescheduleRace(t, svc, repo)

	require.NoError(t, svc.DeleteAppointment(ctx, appt.ID))

	moved, err := svc.GetSlot(ctx, newSlot.ID)
	require.NoError(t, err)
	assert.True(t, moved.IsAvailable)

	old, err := svc.GetSlot(ctx, oldSlot.ID)
	require.NoError(t, err)
	assert.True(t, old.IsAvailable)
}

func TestCancellationUniquePerAppointment(t *testing.T) {
	repo := clinictest.NewMemRepository()
	ctx := context.Background()

	reason := "first"
	_, err := repo.CreateCancellation(ctx, 42, &reason, time.Now())
	require.NoError(t, err)

	// The store itself rejects a second cancellation row, so a concurrent
	// cancel that slips past the read check still surfaces as AlreadyCancelled.
	_, err = repo.CreateCancellation(ctx, 42, &reason, time.Now())
	assert.ErrorIs(t, err, clinic.ErrAlreadyCancelled)
}
