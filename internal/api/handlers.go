package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clinickit/clinic-scheduling/internal/clinic"
)

func parseID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

// Doctors

func createDoctorHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DoctorRequest
		if !decodeBody(w, r, &req) {
			return
		}

		d, err := svc.CreateDoctor(r.Context(), req.Name, req.Specialty)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, DoctorResponse{ID: d.ID, Name: d.Name, Specialty: d.Specialty})
	}
}

func listDoctorsHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := svc.ListDoctors(r.Context())
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]DoctorResponse, 0, len(doctors))
		for _, d := range doctors {
			resp = append(resp, DoctorResponse{ID: d.ID, Name: d.Name, Specialty: d.Specialty})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getDoctorHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a positive integer")
			return
		}

		d, err := svc.GetDoctor(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, DoctorResponse{ID: d.ID, Name: d.Name, Specialty: d.Specialty})
	}
}

func updateDoctorHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a positive integer")
			return
		}
		var req DoctorRequest
		if !decodeBody(w, r, &req) {
			return
		}

		if err := svc.UpdateDoctor(r.Context(), id, req.Name, req.Specialty); err != nil {
			handleServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func deleteDoctorHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a positive integer")
			return
		}

		if err := svc.DeleteDoctor(r.Context(), id); err != nil {
			handleServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Patients

func createPatientHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PatientRequest
		if !decodeBody(w, r, &req) {
			return
		}

		p, err := svc.CreatePatient(r.Context(), req.Name, req.Email)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, PatientResponse{ID: p.ID, Name: p.Name, Email: p.Email})
	}
}

func listPatientsHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patients, err := svc.ListPatients(r.Context())
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]PatientResponse, 0, len(patients))
		for _, p := range patients {
			resp = append(resp, PatientResponse{ID: p.ID, Name: p.Name, Email: p.Email})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getPatientHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a positive integer")
			return
		}

		p, err := svc.GetPatient(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, PatientResponse{ID: p.ID, Name: p.Name, Email: p.Email})
	}
}

func updatePatientHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a positive integer")
			return
		}
		var req PatientRequest
		if !decodeBody(w, r, &req) {
			return
		}

		if err := svc.UpdatePatient(r.Context(), id, req.Name, req.Email); err != nil {
			handleServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func deletePatientHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a positive integer")
			return
		}

		if err := svc.DeletePatient(r.Context(), id); err != nil {
			handleServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listPatientAppointmentsHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "id must be a positive integer")
			return
		}

		appointments, err := svc.ListPatientAppointments(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]PatientAppointmentResponse, 0, len(appointments))
		for _, a := range appointments {
			resp = append(resp, PatientAppointmentResponse{
				AppointmentID: a.AppointmentID,
				DoctorName:    a.DoctorName,
				Date:          a.Date,
				StartTime:     a.StartTime,
				EndTime:       a.EndTime,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Slots

func createSlotHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SlotRequest
		if !decodeBody(w, r, &req) {
			return
		}

		slot, err := svc.CreateSlot(r.Context(), req.DoctorID, req.Date, req.StartTime, req.EndTime)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toSlotResponse(slot))
	}
}

func listSlotsHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var doctorID int64
		if v := r.URL.Query().Get("doctor_id"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be an integer")
				return
			}
			doctorID = id
		}
		availableOnly := r.URL.Query().Get("available_only") == "true"

		slots, err := svc.ListSlots(r.Context(), doctorID, availableOnly)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for i := range slots {
			resp = append(resp, toSlotResponse(&slots[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getSlotHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "id must be a positive integer")
			return
		}

		slot, err := svc.GetSlot(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toSlotResponse(slot))
	}
}

func updateSlotHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "id must be a positive integer")
			return
		}
		var req SlotUpdateRequest
		if !decodeBody(w, r, &req) {
			return
		}

		if err := svc.UpdateSlot(r.Context(), id, req.Date, req.StartTime, req.EndTime); err != nil {
			handleServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func deleteSlotHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "id must be a positive integer")
			return
		}

		if err := svc.DeleteSlot(r.Context(), id); err != nil {
			handleServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Appointments

func bookAppointmentHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.PatientID <= 0 || req.SlotID <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "patient_id and slot_id are required")
			return
		}

		appt, err := svc.Book(r.Context(), req.PatientID, req.SlotID)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appointments, err := svc.ListAppointments(r.Context())
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appointments))
		for i := range appointments {
			resp = append(resp, toAppointmentResponse(&appointments[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a positive integer")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a positive integer")
			return
		}
		var req RescheduleRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.PatientID <= 0 || req.SlotID <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "patient_id and slot_id are required")
			return
		}

		if err := svc.Reschedule(r.Context(), id, req.PatientID, req.SlotID); err != nil {
			handleServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func deleteAppointmentHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a positive integer")
			return
		}

		if err := svc.DeleteAppointment(r.Context(), id); err != nil {
			handleServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func cancelAppointmentHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a positive integer")
			return
		}
		var req CancelRequest
		if !decodeBody(w, r, &req) {
			return
		}

		res, err := svc.Cancel(r.Context(), id, req.Reason, req.HardDelete)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, CancelResponse{
			CancellationID:     res.CancellationID,
			SlotID:             res.SlotID,
			SlotReleased:       true,
			AppointmentDeleted: res.AppointmentDeleted,
		})
	}
}

func checkCancellationHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a positive integer")
			return
		}

		status, err := svc.CheckCancelled(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, CancellationStatusResponse{
			IsCancelled:  status.IsCancelled,
			Cancellation: toCancellationResponse(status.Cancellation),
		})
	}
}

// Cancellations

func listCancellationsHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cancellations, err := svc.ListCancellations(r.Context())
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]CancellationResponse, 0, len(cancellations))
		for i := range cancellations {
			resp = append(resp, *toCancellationResponse(&cancellations[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func updateCancellationHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_cancellation_id", "id must be a positive integer")
			return
		}
		var req CancellationUpdateRequest
		if !decodeBody(w, r, &req) {
			return
		}

		if err := svc.UpdateCancellationReason(r.Context(), id, req.Reason); err != nil {
			handleServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Reporting

func searchAvailabilityHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		results, err := svc.SearchAvailability(r.Context(), clinic.AvailabilityFilter{
			Specialty:  q.Get("specialty"),
			DoctorName: q.Get("doctor_name"),
			StartDate:  q.Get("start_date"),
			EndDate:    q.Get("end_date"),
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]AvailabilityResponse, 0, len(results))
		for _, da := range results {
			resp = append(resp, AvailabilityResponse{
				DoctorID:       da.DoctorID,
				DoctorName:     da.DoctorName,
				Specialty:      da.Specialty,
				TotalSlots:     da.TotalSlots,
				AvailableSlots: da.AvailableSlots,
				EarliestDate:   da.EarliestDate,
				LatestDate:     da.LatestDate,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func capacityReportHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		results, err := svc.CapacityReport(r.Context(), clinic.DateRange{
			StartDate: q.Get("start_date"),
			EndDate:   q.Get("end_date"),
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]CapacityResponse, 0, len(results))
		for _, dc := range results {
			resp = append(resp, CapacityResponse{
				DoctorID:        dc.DoctorID,
				DoctorName:      dc.DoctorName,
				Specialty:       dc.Specialty,
				TotalSlots:      dc.TotalSlots,
				AvailableSlots:  dc.AvailableSlots,
				BookedSlots:     dc.BookedSlots,
				Appointments:    dc.Appointments,
				UtilizationRate: dc.UtilizationRate,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
