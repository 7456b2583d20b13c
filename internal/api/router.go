package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinickit/clinic-scheduling/internal/clinic"
	"github.com/clinickit/clinic-scheduling/internal/notify"
)

type RouterConfig struct {
	Service *clinic.Service
	Hub     *notify.Hub // optional; nil disables /ws
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Env     string
	Version string
	Logger  zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Route("/doctors", func(r chi.Router) {
		r.Post("/", createDoctorHandler(cfg.Service))
		r.Get("/", listDoctorsHandler(cfg.Service))
		r.Get("/{id}", getDoctorHandler(cfg.Service))
		r.Put("/{id}", updateDoctorHandler(cfg.Service))
		r.Delete("/{id}", deleteDoctorHandler(cfg.Service))
	})

	r.Route("/patients", func(r chi.Router) {
		r.Post("/", createPatientHandler(cfg.Service))
		r.Get("/", listPatientsHandler(cfg.Service))
		r.Get("/{id}", getPatientHandler(cfg.Service))
		r.Put("/{id}", updatePatientHandler(cfg.Service))
		r.Delete("/{id}", deletePatientHandler(cfg.Service))
		r.Get("/{id}/appointments", listPatientAppointmentsHandler(cfg.Service))
	})

	r.Route("/slots", func(r chi.Router) {
		r.Post("/", createSlotHandler(cfg.Service))
		r.Get("/", listSlotsHandler(cfg.Service))
		r.Get("/{id}", getSlotHandler(cfg.Service))
		r.Put("/{id}", updateSlotHandler(cfg.Service))
		r.Delete("/{id}", deleteSlotHandler(cfg.Service))
	})

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", bookAppointmentHandler(cfg.Service))
		r.Get("/", listAppointmentsHandler(cfg.Service))
		r.Get("/{id}", getAppointmentHandler(cfg.Service))
		r.Put("/{id}", rescheduleAppointmentHandler(cfg.Service))
		r.Delete("/{id}", deleteAppointmentHandler(cfg.Service))
		r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Service))
		r.Get("/{id}/cancellation", checkCancellationHandler(cfg.Service))
	})

	r.Route("/cancellations", func(r chi.Router) {
		r.Get("/", listCancellationsHandler(cfg.Service))
		r.Patch("/{id}", updateCancellationHandler(cfg.Service))
	})

	r.Get("/availability", searchAvailabilityHandler(cfg.Service))
	r.Get("/reports/capacity", capacityReportHandler(cfg.Service))

	if cfg.Hub != nil {
		r.Get("/ws", cfg.Hub.ServeWS)
	}

	return r
}
