package clinic

import "time"

type Doctor struct {
	ID        int64
	Name      string
	Specialty string
}

type Patient struct {
	ID    int64
	Name  string
	Email string
}

// AppointmentSlot is the unit of booking. Date is YYYY-MM-DD and the times
// are HH:MM:SS, matching the date/time columns in Postgres.
type AppointmentSlot struct {
	ID          int64
	DoctorID    int64
	Date        string
	StartTime   string
	EndTime     string
	IsAvailable bool
}

type Appointment struct {
	ID        int64
	PatientID int64
	SlotID    int64
	BookedAt  time.Time
}

type Cancellation struct {
	ID            int64
	AppointmentID int64
	Reason        *string
	CancelledAt   time.Time
}

// Change is one row of the change feed tailed by the notifier.
type Change struct {
	ID        int64
	TableName string
	Action    string
	RecordID  int64
	Timestamp time.Time
}

// CancelResult reports what a cancellation did, including which slot it freed.
type CancelResult struct {
	CancellationID     int64
	SlotID             int64
	AppointmentDeleted bool
}

type CancellationStatus struct {
	IsCancelled  bool
	Cancellation *Cancellation
}

// PatientAppointment is the joined view returned when listing a patient's
// upcoming appointments.
type PatientAppointment struct {
	AppointmentID int64
	DoctorName    string
	Date          string
	StartTime     string
	EndTime       string
}

type AvailabilityFilter struct {
	Specialty  string
	DoctorName string
	StartDate  string
	EndDate    string
}

type DoctorAvailability struct {
	DoctorID       int64
	DoctorName     string
	Specialty      string
	TotalSlots     int
	AvailableSlots int
	EarliestDate   string
	LatestDate     string
}

type DateRange struct {
	StartDate string
	EndDate   string
}

type DoctorCapacity struct {
	DoctorID        int64
	DoctorName      string
	Specialty       string
	TotalSlots      int
	AvailableSlots  int
	BookedSlots     int
	Appointments    int
	UtilizationRate float64
}
