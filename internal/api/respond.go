package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/clinickit/clinic-scheduling/internal/clinic"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{
		Error:     code,
		Details:   details,
		Retryable: status == http.StatusServiceUnavailable,
	})
}

// handleServiceError maps core error kinds to HTTP statuses: not-found
// conditions to 404, state conflicts to 409, malformed input to 400, and
// store-level aborts to 503 with a retry hint.
func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, clinic.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, clinic.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, clinic.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, clinic.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, clinic.ErrCancellationNotFound):
		writeError(w, http.StatusNotFound, "cancellation_not_found", err.Error())
	case errors.Is(err, clinic.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, clinic.ErrAlreadyCancelled):
		writeError(w, http.StatusConflict, "already_cancelled", err.Error())
	case errors.Is(err, clinic.ErrCannotModifyCancelled):
		writeError(w, http.StatusConflict, "cannot_modify_cancelled", err.Error())
	case errors.Is(err, clinic.ErrDoctorHasSlots),
		errors.Is(err, clinic.ErrPatientHasAppointments),
		errors.Is(err, clinic.ErrSlotHasAppointments):
		writeError(w, http.StatusConflict, "has_dependent_records", err.Error())
	case errors.Is(err, clinic.ErrSlotBooked):
		writeError(w, http.StatusConflict, "slot_booked", err.Error())
	case errors.Is(err, clinic.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, clinic.ErrSlotContended):
		writeError(w, http.StatusServiceUnavailable, "slot_contended", "slot is currently being booked, please retry shortly")
	case errors.Is(err, clinic.ErrTxFailed):
		writeError(w, http.StatusServiceUnavailable, "transaction_failed", "transient storage failure, please retry")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
