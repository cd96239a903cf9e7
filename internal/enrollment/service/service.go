// Package service drives enrollment sessions: it loads a form from the
// session store, applies one wizard operation under a per-session lock and
// saves it back. Submit is the only operation that leaves the process.
package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	apperrors "sgpa-enrollment/internal/common/errors"
	"sgpa-enrollment/internal/common/logger"
	"sgpa-enrollment/internal/common/metrics"
	"sgpa-enrollment/internal/enrollment"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Submitter delivers a completed FieldSet. A nil error means the backend
// accepted it.
type Submitter interface {
	Submit(ctx context.Context, fields enrollment.FieldSet) error
}

// SubmissionRecorder receives one call per finished submission.
type SubmissionRecorder interface {
	RecordSubmission(ctx context.Context, outcome string, d time.Duration)
}

// Outcome is the result of Submit.
type Outcome string

const (
	// OutcomeInvalid means validation blocked the submission; no call was made.
	OutcomeInvalid Outcome = "invalid"
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
)

type Options struct {
	ResetDelay            time.Duration
	RevalidateAllOnSubmit bool
	SubmitTimeout         time.Duration
}

// Dependencies are the collaborators of a Service. Store, Submitter and
// Logger are required; the rest may be nil.
type Dependencies struct {
	Store     Store
	Submitter Submitter
	Audit     AuditRecorder
	Recorder  SubmissionRecorder
	Scheduler Scheduler
	Tracer    trace.Tracer
	Logger    logger.Logger
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

type pendingReset struct {
	submissionID string
	timer        Timer
}

type Service struct {
	store     Store
	submitter Submitter
	audit     AuditRecorder
	recorder  SubmissionRecorder
	scheduler Scheduler
	tracer    trace.Tracer
	log       logger.Logger
	opts      Options
	newID     func() string

	// persistDelay is the first backoff between attempts to save a
	// submission outcome; it doubles per attempt.
	persistDelay time.Duration

	mu     sync.Mutex
	locks  map[string]*sessionLock
	resets map[string]pendingReset

	// inflight maps a session to the submission whose outbound call is
	// running in this process.
	inflight map[string]string
}

const persistAttempts = 3

func New(deps Dependencies, opts Options) *Service {
	if deps.Scheduler == nil {
		deps.Scheduler = NewScheduler()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("sgpa-enrollment/service")
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNoOpLogger()
	}
	if opts.ResetDelay <= 0 {
		opts.ResetDelay = 3 * time.Second
	}

	return &Service{
		store:     deps.Store,
		submitter: deps.Submitter,
		audit:     deps.Audit,
		recorder:  deps.Recorder,
		scheduler: deps.Scheduler,
		tracer:    deps.Tracer,
		log:       deps.Logger.WithFields(map[string]interface{}{"component": "enrollment-service"}),
		opts:      opts,
		newID:     uuid.NewString,

		persistDelay: 50 * time.Millisecond,
		locks:        make(map[string]*sessionLock),
		resets:       make(map[string]pendingReset),
		inflight:     make(map[string]string),
	}
}

// ==========================
// Session locking
// ==========================

func (s *Service) lock(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sessionLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// mutate runs fn on the stored form under the session lock and saves the
// result. When fn fails nothing is saved.
func (s *Service) mutate(ctx context.Context, id string, fn func(f *enrollment.Form) error) (*enrollment.Form, error) {
	unlock := s.lock(id)
	defer unlock()

	form, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(form); err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, form); err != nil {
		return nil, err
	}
	return form.Clone(), nil
}

// ==========================
// Wizard operations
// ==========================

// Start creates a new session with the seeded defaults.
func (s *Service) Start(ctx context.Context) (*enrollment.Form, error) {
	form := enrollment.NewForm(s.newID())
	if err := s.store.Save(ctx, form); err != nil {
		return nil, err
	}

	metrics.SessionsStarted.Inc()
	s.log.Info("Enrollment session started", map[string]interface{}{"sessionId": form.ID})
	return form, nil
}

func (s *Service) Get(ctx context.Context, id string) (*enrollment.Form, error) {
	return s.store.Load(ctx, id)
}

// UpdateField sets one field and clears its error.
func (s *Service) UpdateField(ctx context.Context, id string, field enrollment.Field, value string) (*enrollment.Form, error) {
	return s.mutate(ctx, id, func(f *enrollment.Form) error {
		return f.Update(field, value)
	})
}

// UpdateFields applies several updates atomically: any unknown field or bad
// date rejects the whole batch.
func (s *Service) UpdateFields(ctx context.Context, id string, values map[enrollment.Field]string) (*enrollment.Form, error) {
	return s.mutate(ctx, id, func(f *enrollment.Form) error {
		for field := range values {
			if !field.Valid() {
				return apperrors.NewUnknownFieldError(string(field))
			}
		}
		for _, field := range enrollment.AllFields {
			value, ok := values[field]
			if !ok {
				continue
			}
			if err := f.Update(field, value); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetDateOfBirth sets or, with nil, clears the date of birth.
func (s *Service) SetDateOfBirth(ctx context.Context, id string, d *time.Time) (*enrollment.Form, error) {
	return s.mutate(ctx, id, func(f *enrollment.Form) error {
		f.SetDateOfBirth(d)
		return nil
	})
}

// Advance validates the current step and moves forward when it is clean.
// The returned bool reports whether the step changed.
func (s *Service) Advance(ctx context.Context, id string) (*enrollment.Form, bool, error) {
	var advanced bool
	form, err := s.mutate(ctx, id, func(f *enrollment.Form) error {
		if f.Step.IsFinal() {
			return apperrors.NewAlreadyOnFinalStepError(int(f.Step))
		}
		from := f.Step
		advanced = f.Advance()
		if advanced {
			metrics.StepTransitions.WithLabelValues("advance", stepLabel(from)).Inc()
		} else {
			metrics.StepTransitions.WithLabelValues("blocked", stepLabel(from)).Inc()
			recordValidationFailures(from, f.Errors)
		}
		return nil
	})
	return form, advanced, err
}

// Retreat moves back one step without validating.
func (s *Service) Retreat(ctx context.Context, id string) (*enrollment.Form, error) {
	return s.mutate(ctx, id, func(f *enrollment.Form) error {
		if f.Step > enrollment.StepPersonalDetails {
			metrics.StepTransitions.WithLabelValues("retreat", stepLabel(f.Step)).Inc()
		}
		f.Retreat()
		return nil
	})
}

// Discard deletes the session and cancels its pending reset.
func (s *Service) Discard(ctx context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()

	s.cancelReset(id)
	if _, err := s.store.Load(ctx, id); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

// ==========================
// Submission
// ==========================

// Submit validates and sends the form. The outbound call runs without the
// session lock so edits stay possible; the payload is the snapshot taken
// when the submission began.
func (s *Service) Submit(ctx context.Context, id string) (*enrollment.Form, Outcome, error) {
	submissionID, payload, invalidForm, err := s.beginSubmission(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if invalidForm != nil {
		return invalidForm, OutcomeInvalid, nil
	}
	defer s.untrackSubmission(id, submissionID)

	res := s.send(ctx, id, submissionID, payload)

	outcome := OutcomeSuccess
	if res.err != nil {
		outcome = OutcomeError
	}

	// the call already happened; finish bookkeeping even if the client left
	bg := context.WithoutCancel(ctx)
	s.recordOutcome(bg, id, submissionID, outcome, res)

	form, err := s.completeSubmission(bg, id, submissionID, outcome == OutcomeSuccess)
	if err != nil {
		return nil, outcome, err
	}
	return form, outcome, nil
}

func (s *Service) beginSubmission(ctx context.Context, id string) (string, enrollment.FieldSet, *enrollment.Form, error) {
	unlock := s.lock(id)
	defer unlock()

	form, err := s.store.Load(ctx, id)
	if err != nil {
		return "", enrollment.FieldSet{}, nil, err
	}
	if form.Submitting {
		if s.isInFlight(id, form.SubmissionID) {
			return "", enrollment.FieldSet{}, nil, apperrors.NewSubmissionInProgressError(id)
		}
		// no call is running for it here: the outcome was never saved
		s.log.Warn("Replacing stale submission", map[string]interface{}{
			"sessionId":    id,
			"submissionId": form.SubmissionID,
		})
		form.Submitting = false
	}
	if !form.Step.IsFinal() {
		return "", enrollment.FieldSet{}, nil, apperrors.NewNotOnFinalStepError(int(form.Step))
	}

	var valid bool
	if s.opts.RevalidateAllOnSubmit {
		valid = form.ValidateWhole()
	} else {
		valid = len(form.Validate(enrollment.LastStep)) == 0
	}
	if !valid {
		recordValidationFailures(form.Step, form.Errors)
		metrics.Submissions.WithLabelValues(string(OutcomeInvalid)).Inc()
		if err := s.store.Save(ctx, form); err != nil {
			return "", enrollment.FieldSet{}, nil, err
		}
		return "", enrollment.FieldSet{}, form.Clone(), nil
	}

	s.cancelReset(id)

	submissionID := s.newID()
	payload := form.BeginSubmission(submissionID)
	if err := s.store.Save(ctx, form); err != nil {
		return "", enrollment.FieldSet{}, nil, err
	}
	s.trackSubmission(id, submissionID)
	return submissionID, payload, nil, nil
}

func (s *Service) trackSubmission(id, submissionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[id] = submissionID
}

func (s *Service) untrackSubmission(id, submissionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[id] == submissionID {
		delete(s.inflight, id)
	}
}

func (s *Service) isInFlight(id, submissionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.inflight[id]
	return ok && current == submissionID
}

type callResult struct {
	err     error
	elapsed time.Duration
	traceID string
}

func (s *Service) send(ctx context.Context, id, submissionID string, payload enrollment.FieldSet) callResult {
	if s.opts.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.SubmitTimeout)
		defer cancel()
	}

	ctx, span := s.tracer.Start(ctx, "enrollment.submit",
		trace.WithAttributes(
			attribute.String("enrollment.session_id", id),
			attribute.String("enrollment.submission_id", submissionID),
		))
	defer span.End()

	start := time.Now()
	err := s.submitter.Submit(ctx, payload)
	res := callResult{err: err, elapsed: time.Since(start)}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperrors.CodeOf(err)))
	}
	if sc := span.SpanContext(); sc.HasTraceID() {
		res.traceID = sc.TraceID().String()
	}
	return res
}

func (s *Service) recordOutcome(ctx context.Context, id, submissionID string, outcome Outcome, res callResult) {
	elapsed := res.elapsed
	fields := map[string]interface{}{
		"sessionId":    id,
		"submissionId": submissionID,
		"outcome":      string(outcome),
		"durationMs":   elapsed.Milliseconds(),
	}
	if res.traceID != "" {
		fields["traceId"] = res.traceID
	}

	var errorCode string
	if res.err != nil {
		errorCode = string(apperrors.CodeOf(res.err))
		fields["errorCode"] = errorCode
		s.log.WithError(res.err).Warn("Enrollment submission failed", fields)
	} else {
		s.log.Info("Enrollment submitted", fields)
	}

	metrics.Submissions.WithLabelValues(string(outcome)).Inc()
	metrics.SubmissionDuration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
	if s.recorder != nil {
		s.recorder.RecordSubmission(ctx, string(outcome), elapsed)
	}

	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, AuditRecord{
		SessionID:    id,
		SubmissionID: submissionID,
		Outcome:      string(outcome),
		ErrorCode:    errorCode,
		Duration:     elapsed,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		s.log.WithError(err).Warn("Failed to write submission audit record", map[string]interface{}{
			"sessionId":    id,
			"submissionId": submissionID,
		})
	}
}

// completeSubmission stores the outcome, retrying retryable store failures
// with backoff. A session deleted meanwhile is not retried.
func (s *Service) completeSubmission(ctx context.Context, id, submissionID string, accepted bool) (*enrollment.Form, error) {
	unlock := s.lock(id)
	defer unlock()

	var err error
	delay := s.persistDelay
	for attempt := 1; attempt <= persistAttempts; attempt++ {
		var form *enrollment.Form
		form, err = s.storeOutcome(ctx, id, submissionID, accepted)
		if err == nil {
			return form, nil
		}
		if !apperrors.IsRetryableErrorCode(apperrors.CodeOf(err)) {
			return nil, err
		}
		if attempt < persistAttempts {
			s.log.WithError(err).Warn("Retrying save of submission outcome", map[string]interface{}{
				"sessionId":    id,
				"submissionId": submissionID,
				"attempt":      attempt,
			})
			time.Sleep(delay)
			delay *= 2
		}
	}

	s.log.WithError(err).Error("Failed to save submission outcome", map[string]interface{}{
		"sessionId":    id,
		"submissionId": submissionID,
	})
	return nil, err
}

func (s *Service) storeOutcome(ctx context.Context, id, submissionID string, accepted bool) (*enrollment.Form, error) {
	form, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !form.CompleteSubmission(submissionID, accepted) {
		return form, nil
	}
	if err := s.store.Save(ctx, form); err != nil {
		return nil, err
	}

	if accepted {
		s.scheduleReset(id, submissionID)
	}
	return form.Clone(), nil
}

// ==========================
// Delayed reset
// ==========================

func (s *Service) scheduleReset(id, submissionID string) {
	// hold mu across AfterFunc so a short delay cannot fire before the
	// entry is registered
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.resets[id]; ok {
		prev.timer.Stop()
	}
	timer := s.scheduler.AfterFunc(s.opts.ResetDelay, func() {
		s.applyReset(id, submissionID)
	})
	s.resets[id] = pendingReset{submissionID: submissionID, timer: timer}
}

func (s *Service) cancelReset(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.resets[id]; ok {
		p.timer.Stop()
		delete(s.resets, id)
	}
}

func (s *Service) applyReset(id, submissionID string) {
	s.mu.Lock()
	if p, ok := s.resets[id]; ok && p.submissionID == submissionID {
		delete(s.resets, id)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	unlock := s.lock(id)
	defer unlock()

	form, err := s.store.Load(ctx, id)
	if err != nil {
		if !apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound) {
			s.log.WithError(err).Warn("Failed to load session for reset", map[string]interface{}{"sessionId": id})
		}
		return
	}
	if !form.ResetAfterSuccess(submissionID) {
		return
	}
	if err := s.store.Save(ctx, form); err != nil {
		s.log.WithError(err).Error("Failed to save reset session", map[string]interface{}{"sessionId": id})
		return
	}

	metrics.SessionsReset.Inc()
	s.log.Debug("Enrollment form reset after submission", map[string]interface{}{
		"sessionId":    id,
		"submissionId": submissionID,
	})
}

// PendingResets returns the number of scheduled resets.
func (s *Service) PendingResets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.resets)
}

func stepLabel(step enrollment.Step) string {
	return strconv.Itoa(int(step))
}

func recordValidationFailures(step enrollment.Step, errs enrollment.ErrorSet) {
	for _, f := range errs.Fields() {
		metrics.ValidationFailures.WithLabelValues(stepLabel(step), string(f)).Inc()
	}
}
