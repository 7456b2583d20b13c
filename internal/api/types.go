package api

import (
	"time"

	"github.com/clinickit/clinic-scheduling/internal/clinic"
)

type DoctorRequest struct {
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
}

type DoctorResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Specialty string `json:"specialty"`
}

type PatientRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type PatientResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type SlotRequest struct {
	DoctorID  int64  `json:"doctor_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type SlotUpdateRequest struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type SlotResponse struct {
	ID          int64  `json:"id"`
	DoctorID    int64  `json:"doctor_id"`
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	IsAvailable bool   `json:"is_available"`
}

type BookRequest struct {
	PatientID int64 `json:"patient_id"`
	SlotID    int64 `json:"slot_id"`
}

type AppointmentResponse struct {
	ID        int64     `json:"id"`
	PatientID int64     `json:"patient_id"`
	SlotID    int64     `json:"slot_id"`
	BookedAt  time.Time `json:"booked_at"`
}

type RescheduleRequest struct {
	PatientID int64 `json:"patient_id"`
	SlotID    int64 `json:"slot_id"`
}

type CancelRequest struct {
	Reason     string `json:"reason,omitempty"`
	HardDelete bool   `json:"hard_delete,omitempty"`
}

type CancelResponse struct {
	CancellationID     int64 `json:"cancellation_id"`
	SlotID             int64 `json:"slot_id"`
	SlotReleased       bool  `json:"slot_released"`
	AppointmentDeleted bool  `json:"appointment_deleted"`
}

type CancellationResponse struct {
	ID            int64     `json:"id"`
	AppointmentID int64     `json:"appointment_id"`
	Reason        string    `json:"reason,omitempty"`
	CancelledAt   time.Time `json:"cancelled_at"`
}

type CancellationStatusResponse struct {
	IsCancelled  bool                  `json:"is_cancelled"`
	Cancellation *CancellationResponse `json:"cancellation,omitempty"`
}

type CancellationUpdateRequest struct {
	Reason string `json:"reason"`
}

type PatientAppointmentResponse struct {
	AppointmentID int64  `json:"appointment_id"`
	DoctorName    string `json:"doctor_name"`
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
}

type AvailabilityResponse struct {
	DoctorID       int64  `json:"doctor_id"`
	DoctorName     string `json:"doctor_name"`
	Specialty      string `json:"specialty"`
	TotalSlots     int    `json:"total_slots"`
	AvailableSlots int    `json:"available_slots"`
	EarliestDate   string `json:"earliest_date,omitempty"`
	LatestDate     string `json:"latest_date,omitempty"`
}

type CapacityResponse struct {
	DoctorID        int64   `json:"doctor_id"`
	DoctorName      string  `json:"doctor_name"`
	Specialty       string  `json:"specialty"`
	TotalSlots      int     `json:"total_slots"`
	AvailableSlots  int     `json:"available_slots"`
	BookedSlots     int     `json:"booked_slots"`
	Appointments    int     `json:"confirmed_appointments"`
	UtilizationRate float64 `json:"utilization_rate"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func toCancellationResponse(c *clinic.Cancellation) *CancellationResponse {
	if c == nil {
		return nil
	}
	resp := &CancellationResponse{
		ID:            c.ID,
		AppointmentID: c.AppointmentID,
		CancelledAt:   c.CancelledAt,
	}
	if c.Reason != nil {
		resp.Reason = *c.Reason
	}
	return resp
}

func toSlotResponse(s *clinic.AppointmentSlot) SlotResponse {
	return SlotResponse{
		ID:          s.ID,
		DoctorID:    s.DoctorID,
		Date:        s.Date,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		IsAvailable: s.IsAvailable,
	}
}

func toAppointmentResponse(a *clinic.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		SlotID:    a.SlotID,
		BookedAt:  a.BookedAt,
	}
}
