package httptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "sgpa-enrollment/internal/common/errors"
	"sgpa-enrollment/internal/common/logger"
	"sgpa-enrollment/internal/common/validation"
	"sgpa-enrollment/internal/enrollment"
	"sgpa-enrollment/internal/enrollment/service"
	"sgpa-enrollment/internal/refdata"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBodyBytes = 64 << 10

// EnrollmentService is the set of wizard operations the handlers drive.
type EnrollmentService interface {
	Start(ctx context.Context) (*enrollment.Form, error)
	Get(ctx context.Context, id string) (*enrollment.Form, error)
	UpdateField(ctx context.Context, id string, field enrollment.Field, value string) (*enrollment.Form, error)
	UpdateFields(ctx context.Context, id string, values map[enrollment.Field]string) (*enrollment.Form, error)
	SetDateOfBirth(ctx context.Context, id string, d *time.Time) (*enrollment.Form, error)
	Advance(ctx context.Context, id string) (*enrollment.Form, bool, error)
	Retreat(ctx context.Context, id string) (*enrollment.Form, error)
	Submit(ctx context.Context, id string) (*enrollment.Form, service.Outcome, error)
	Discard(ctx context.Context, id string) error
}

// Handler serves the enrollment API.
type Handler struct {
	svc         EnrollmentService
	log         logger.Logger
	patchSchema *validation.Schema
}

func NewHandler(svc EnrollmentService, log logger.Logger) *Handler {
	return &Handler{
		svc:         svc,
		log:         log.WithFields(map[string]interface{}{"component": "http"}),
		patchSchema: validation.MustCompile(enrollment.FieldPatchSchema()),
	}
}

// Register mounts the enrollment endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Route("/enrollments", func(r chi.Router) {
		r.Post("/", h.handleStart)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Delete("/", h.handleDiscard)
			r.Put("/fields/{field}", h.handleUpdateField)
			r.Patch("/fields", h.handleUpdateFields)
			r.Put("/date-of-birth", h.handleSetDateOfBirth)
			r.Post("/advance", h.handleAdvance)
			r.Post("/retreat", h.handleRetreat)
			r.Post("/submit", h.handleSubmit)
		})
	})
	r.Get("/steps", h.handleSteps)
	r.Get("/refdata", h.handleRefdata)
	r.Get("/refdata/{table}", h.handleRefdataTable)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	code := apperrors.CodeOf(err)
	fields := map[string]interface{}{
		"operation": op,
		"sessionId": chi.URLParam(r, "id"),
		"requestId": middleware.GetReqID(r.Context()),
		"errorCode": code,
	}
	if statusFor(code) >= http.StatusInternalServerError {
		h.log.WithError(err).Error("Enrollment request failed", fields)
	} else {
		h.log.Debug("Enrollment request rejected", fields)
	}
	writeError(w, err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.NewInvalidRequestError(fmt.Sprintf("malformed body: %v", err))
	}
	return nil
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	form, err := h.svc.Start(r.Context())
	if err != nil {
		h.fail(w, r, "start", err)
		return
	}
	w.Header().Set("Location", "/api/v1/enrollments/"+form.ID)
	writeForm(w, http.StatusCreated, form)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	form, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get", err)
		return
	}
	writeForm(w, http.StatusOK, form)
}

type fieldValueRequest struct {
	Value *string `json:"value"`
}

func (h *Handler) handleUpdateField(w http.ResponseWriter, r *http.Request) {
	field, err := enrollment.ParseField(chi.URLParam(r, "field"))
	if err != nil {
		h.fail(w, r, "update-field", err)
		return
	}

	var req fieldValueRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, "update-field", err)
		return
	}
	if req.Value == nil {
		h.fail(w, r, "update-field", apperrors.NewInvalidRequestError("value is required"))
		return
	}

	form, err := h.svc.UpdateField(r.Context(), chi.URLParam(r, "id"), field, *req.Value)
	if err != nil {
		h.fail(w, r, "update-field", err)
		return
	}
	writeForm(w, http.StatusOK, form)
}

func (h *Handler) handleUpdateFields(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.fail(w, r, "update-fields", apperrors.NewInvalidRequestError(err.Error()))
		return
	}

	result, err := h.patchSchema.ValidateJSON(raw)
	if err != nil {
		h.fail(w, r, "update-fields", apperrors.NewInvalidRequestError(err.Error()))
		return
	}
	if !result.Valid {
		h.fail(w, r, "update-fields", apperrors.NewInvalidRequestError(strings.Join(result.GetErrorMessages(), "; ")))
		return
	}

	var body map[string]string
	if err := json.Unmarshal(raw, &body); err != nil {
		h.fail(w, r, "update-fields", apperrors.NewInvalidRequestError(err.Error()))
		return
	}
	values := make(map[enrollment.Field]string, len(body))
	for k, v := range body {
		values[enrollment.Field(k)] = v
	}

	form, err := h.svc.UpdateFields(r.Context(), chi.URLParam(r, "id"), values)
	if err != nil {
		h.fail(w, r, "update-fields", err)
		return
	}
	writeForm(w, http.StatusOK, form)
}

type dateOfBirthRequest struct {
	Date *string `json:"date"`
}

func (h *Handler) handleSetDateOfBirth(w http.ResponseWriter, r *http.Request) {
	var req dateOfBirthRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.fail(w, r, "set-date-of-birth", err)
		return
	}

	var dob *time.Time
	if req.Date != nil && *req.Date != "" {
		d, err := time.Parse(enrollment.DateLayout, *req.Date)
		if err != nil {
			h.fail(w, r, "set-date-of-birth", apperrors.NewInvalidDateError(*req.Date))
			return
		}
		dob = &d
	}

	form, err := h.svc.SetDateOfBirth(r.Context(), chi.URLParam(r, "id"), dob)
	if err != nil {
		h.fail(w, r, "set-date-of-birth", err)
		return
	}
	writeForm(w, http.StatusOK, form)
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	form, advanced, err := h.svc.Advance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "advance", err)
		return
	}
	if !advanced {
		writeForm(w, http.StatusUnprocessableEntity, form)
		return
	}
	writeForm(w, http.StatusOK, form)
}

func (h *Handler) handleRetreat(w http.ResponseWriter, r *http.Request) {
	form, err := h.svc.Retreat(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "retreat", err)
		return
	}
	writeForm(w, http.StatusOK, form)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	form, outcome, err := h.svc.Submit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "submit", err)
		return
	}

	switch outcome {
	case service.OutcomeInvalid:
		writeForm(w, http.StatusUnprocessableEntity, form)
	case service.OutcomeError:
		writeForm(w, http.StatusBadGateway, form)
	default:
		writeForm(w, http.StatusOK, form)
	}
}

func (h *Handler) handleDiscard(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Discard(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "discard", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSteps(w http.ResponseWriter, _ *http.Request) {
	steps := enrollment.Steps()
	out := make([]stepView, 0, len(steps))
	for _, s := range steps {
		out = append(out, stepView{Step: s, Title: s.Title(), IsFinal: s.IsFinal(), Fields: s.Fields()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleRefdata(w http.ResponseWriter, r *http.Request) {
	out := make(map[refdata.Table][]refdata.Option)
	for _, t := range refdata.Tables() {
		opts, err := refdata.List(t)
		if err != nil {
			h.fail(w, r, "refdata", err)
			return
		}
		out[t] = opts
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleRefdataTable(w http.ResponseWriter, r *http.Request) {
	opts, err := refdata.List(refdata.Table(chi.URLParam(r, "table")))
	if err != nil {
		h.fail(w, r, "refdata", err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}
