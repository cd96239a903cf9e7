package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "sgpa-enrollment/internal/common/errors"
	"sgpa-enrollment/internal/common/logger"
	"sgpa-enrollment/internal/enrollment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Doubles
// ==========================

type fakeSubmitter struct {
	mu      sync.Mutex
	calls   []enrollment.FieldSet
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeSubmitter) Submit(ctx context.Context, fields enrollment.FieldSet) error {
	f.mu.Lock()
	f.calls = append(f.calls, fields)
	started, release, err := f.started, f.release, f.err
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if release != nil {
		<-release
	}
	return err
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) last() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return nil
	}
	return s.timers[len(s.timers)-1]
}

type fakeAudit struct {
	mu      sync.Mutex
	records []AuditRecord
	err     error
}

func (a *fakeAudit) Record(_ context.Context, rec AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return a.err
}

type testEnv struct {
	svc       *Service
	store     *MemoryStore
	submitter *fakeSubmitter
	scheduler *fakeScheduler
	audit     *fakeAudit
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	env := &testEnv{
		store:     NewMemoryStore(time.Hour),
		submitter: &fakeSubmitter{},
		scheduler: &fakeScheduler{},
		audit:     &fakeAudit{},
	}
	env.svc = New(Dependencies{
		Store:     env.store,
		Submitter: env.submitter,
		Audit:     env.audit,
		Scheduler: env.scheduler,
		Logger:    logger.NewTestLogger(t),
	}, opts)
	return env
}

func completeValues() map[enrollment.Field]string {
	return map[enrollment.Field]string{
		enrollment.FieldSalutation:    "MS",
		enrollment.FieldName:          "Siti Aminah",
		enrollment.FieldPassport:      "A9876543",
		enrollment.FieldGender:        "Female",
		enrollment.FieldDateOfBirth:   "1988-11-02",
		enrollment.FieldEmail:         "siti@example.com",
		enrollment.FieldMobileNo:      "0198765432",
		enrollment.FieldPostcode:      "10200",
		enrollment.FieldAddress1:      "3 Lorong Burma",
		enrollment.FieldMaritalStatus: "M",
	}
}

// startOnFinalStep creates a complete session and walks it to the last step.
func (e *testEnv) startOnFinalStep(t *testing.T) string {
	ctx := context.Background()
	form, err := e.svc.Start(ctx)
	require.NoError(t, err)

	_, err = e.svc.UpdateFields(ctx, form.ID, completeValues())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, advanced, err := e.svc.Advance(ctx, form.ID)
		require.NoError(t, err)
		require.True(t, advanced)
	}
	return form.ID
}

// ==========================
// Navigation
// ==========================

func TestService_Start(t *testing.T) {
	env := newTestEnv(t, Options{})

	form, err := env.svc.Start(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, form.ID)
	assert.Equal(t, enrollment.NewFieldSet(), form.Fields)

	loaded, err := env.svc.Get(context.Background(), form.ID)
	require.NoError(t, err)
	assert.Equal(t, form.ID, loaded.ID)
}

func TestService_Get_NotFound(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, err := env.svc.Get(context.Background(), "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound))
}

func TestService_Advance(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	form, err := env.svc.Start(ctx)
	require.NoError(t, err)

	got, advanced, err := env.svc.Advance(ctx, form.ID)
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Equal(t, enrollment.StepPersonalDetails, got.Step)
	assert.Len(t, got.Errors, 5)

	// errors survive the save
	stored, err := env.svc.Get(ctx, form.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Errors, 5)

	got, err = env.svc.UpdateField(ctx, form.ID, enrollment.FieldGender, "Male")
	require.NoError(t, err)
	assert.False(t, got.Errors.Has(enrollment.FieldGender))
	assert.Len(t, got.Errors, 4)
}

func TestService_Advance_FromFinalStep(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.startOnFinalStep(t)

	_, _, err := env.svc.Advance(context.Background(), id)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAlreadyOnFinalStep))
}

func TestService_Retreat(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.startOnFinalStep(t)

	form, err := env.svc.Retreat(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StepOccupationContact, form.Step)
}

func TestService_UpdateFields_Atomic(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	form, err := env.svc.Start(ctx)
	require.NoError(t, err)

	_, err = env.svc.UpdateFields(ctx, form.ID, map[enrollment.Field]string{
		enrollment.FieldName:        "Someone",
		enrollment.FieldDateOfBirth: "not-a-date",
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidDate))

	_, err = env.svc.UpdateFields(ctx, form.ID, map[enrollment.Field]string{
		enrollment.FieldName: "Someone",
		"HEIGHT":             "180",
	})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnknownField))

	stored, err := env.svc.Get(ctx, form.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Fields.Name)
}

func TestService_SetDateOfBirth(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	form, err := env.svc.Start(ctx)
	require.NoError(t, err)

	d := time.Date(1975, time.July, 9, 15, 0, 0, 0, time.UTC)
	got, err := env.svc.SetDateOfBirth(ctx, form.ID, &d)
	require.NoError(t, err)
	assert.Equal(t, "1975-07-09", got.Fields.DateOfBirth)

	got, err = env.svc.SetDateOfBirth(ctx, form.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, got.Fields.DateOfBirth)
	assert.Nil(t, got.DateOfBirth)
}

// ==========================
// Submission
// ==========================

func TestService_Submit_Accepted(t *testing.T) {
	env := newTestEnv(t, Options{ResetDelay: 3 * time.Second})
	id := env.startOnFinalStep(t)
	ctx := context.Background()

	form, outcome, err := env.svc.Submit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.Equal(t, enrollment.StatusSuccess, form.Status)
	assert.False(t, form.Submitting)

	require.Equal(t, 1, env.submitter.callCount())
	sent := env.submitter.calls[0]
	assert.Equal(t, "Siti Aminah", sent.Name)
	assert.Equal(t, "1988-11-02", sent.DateOfBirth)
	assert.Len(t, sent.Map(), 16)

	timer := env.scheduler.last()
	require.NotNil(t, timer)
	assert.Equal(t, 3*time.Second, timer.delay)

	// not yet reset
	stored, err := env.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Siti Aminah", stored.Fields.Name)

	timer.fn()

	stored, err = env.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, enrollment.BlankFieldSet(), stored.Fields)
	assert.Equal(t, enrollment.StepPersonalDetails, stored.Step)
	assert.Equal(t, enrollment.StatusIdle, stored.Status)
	assert.Nil(t, stored.DateOfBirth)
	assert.Equal(t, 0, env.svc.PendingResets())

	require.Len(t, env.audit.records, 1)
	assert.Equal(t, "success", env.audit.records[0].Outcome)
	assert.Empty(t, env.audit.records[0].ErrorCode)
}

func TestService_Submit_Rejected(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.submitter.err = apperrors.NewSubmissionRejectedError(500)
	id := env.startOnFinalStep(t)

	before, err := env.svc.Get(context.Background(), id)
	require.NoError(t, err)

	form, outcome, err := env.svc.Submit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, outcome)
	assert.Equal(t, enrollment.StatusError, form.Status)
	assert.Equal(t, enrollment.ErrorBanner, form.Status.Banner())
	assert.False(t, form.Submitting)
	assert.Equal(t, before.Fields, form.Fields)
	assert.Equal(t, enrollment.StepAddressOther, form.Step)

	assert.Nil(t, env.scheduler.last())
	require.Len(t, env.audit.records, 1)
	assert.Equal(t, "SUBMISSION_REJECTED", env.audit.records[0].ErrorCode)
}

func TestService_Submit_TransportFailureIsRetryable(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.submitter.err = apperrors.NewSubmissionTransportFailedError(errors.New("connection refused"))
	id := env.startOnFinalStep(t)

	_, outcome, err := env.svc.Submit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, outcome)

	env.submitter.err = nil
	form, outcome, err := env.svc.Submit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.Equal(t, enrollment.StatusSuccess, form.Status)
	assert.Equal(t, 2, env.submitter.callCount())
}

func TestService_Submit_NotOnFinalStep(t *testing.T) {
	env := newTestEnv(t, Options{})
	form, err := env.svc.Start(context.Background())
	require.NoError(t, err)

	_, _, err = env.svc.Submit(context.Background(), form.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotOnFinalStep))
	assert.Equal(t, 0, env.submitter.callCount())
}

func TestService_Submit_InvalidFinalStep(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.startOnFinalStep(t)
	ctx := context.Background()

	_, err := env.svc.UpdateField(ctx, id, enrollment.FieldAddress1, "  ")
	require.NoError(t, err)

	form, outcome, err := env.svc.Submit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, outcome)
	assert.Equal(t, "Address line 1 is required", form.Errors[enrollment.FieldAddress1])
	assert.Equal(t, enrollment.StatusIdle, form.Status)
	assert.False(t, form.Submitting)
	assert.Equal(t, 0, env.submitter.callCount())
}

func TestService_Submit_RevalidateAll(t *testing.T) {
	tests := []struct {
		name          string
		revalidateAll bool
		wantOutcome   Outcome
		wantStep      enrollment.Step
	}{
		{"final step only", false, OutcomeSuccess, enrollment.StepAddressOther},
		{"whole form", true, OutcomeInvalid, enrollment.StepOccupationContact},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Options{RevalidateAllOnSubmit: tt.revalidateAll})
			id := env.startOnFinalStep(t)

			// an earlier step went invalid after it was passed
			_, err := env.svc.UpdateField(context.Background(), id, enrollment.FieldEmail, "nope")
			require.NoError(t, err)

			form, outcome, err := env.svc.Submit(context.Background(), id)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOutcome, outcome)
			assert.Equal(t, tt.wantStep, form.Step)
			if tt.revalidateAll {
				assert.Equal(t, enrollment.EmailInvalidMessage, form.Errors[enrollment.FieldEmail])
			}
		})
	}
}

func TestService_Submit_NewSubmissionCancelsPendingReset(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.startOnFinalStep(t)
	ctx := context.Background()

	_, _, err := env.svc.Submit(ctx, id)
	require.NoError(t, err)
	first := env.scheduler.last()

	_, outcome, err := env.svc.Submit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	second := env.scheduler.last()

	assert.True(t, first.stopped)
	assert.NotSame(t, first, second)
	assert.Equal(t, 1, env.svc.PendingResets())

	// a stale callback that raced past Stop must not touch the newer submission
	first.fn()
	stored, err := env.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Siti Aminah", stored.Fields.Name)
	assert.Equal(t, enrollment.StatusSuccess, stored.Status)

	second.fn()
	stored, err = env.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, enrollment.BlankFieldSet(), stored.Fields)
}

func TestService_Submit_InProgressGuardAndEdits(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.submitter.started = make(chan struct{})
	env.submitter.release = make(chan struct{})
	id := env.startOnFinalStep(t)
	ctx := context.Background()

	done := make(chan Outcome, 1)
	go func() {
		_, outcome, err := env.svc.Submit(ctx, id)
		assert.NoError(t, err)
		done <- outcome
	}()

	<-env.submitter.started

	inFlight, err := env.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, inFlight.Submitting)
	assert.Equal(t, enrollment.StatusIdle, inFlight.Status)

	_, _, err = env.svc.Submit(ctx, id)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSubmissionInProgress))

	// the session lock is not held during the call
	_, err = env.svc.UpdateField(ctx, id, enrollment.FieldAddress2, "Level 5")
	require.NoError(t, err)

	close(env.submitter.release)
	assert.Equal(t, OutcomeSuccess, <-done)
	assert.Equal(t, 1, env.submitter.callCount())
	assert.Empty(t, env.submitter.calls[0].Address2)

	stored, err := env.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Level 5", stored.Fields.Address2)
	assert.False(t, stored.Submitting)
}

// flakyStore fails the next failSaves calls to Save.
type flakyStore struct {
	*MemoryStore
	mu        sync.Mutex
	failSaves int
	saves     int
}

func (f *flakyStore) Save(ctx context.Context, form *enrollment.Form) error {
	f.mu.Lock()
	f.saves++
	fail := f.failSaves > 0
	if fail {
		f.failSaves--
	}
	f.mu.Unlock()

	if fail {
		return apperrors.NewSessionStoreFailedError("save", errors.New("connection reset"))
	}
	return f.MemoryStore.Save(ctx, form)
}

func (f *flakyStore) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSaves = n
}

// submitWithFailingSaves runs Submit on a final-step session and makes the
// next n saves fail while the outbound call is in flight.
func submitWithFailingSaves(t *testing.T, env *testEnv, store *flakyStore, n int) (string, *enrollment.Form, Outcome, error) {
	env.submitter.started = make(chan struct{})
	env.submitter.release = make(chan struct{})
	id := env.startOnFinalStep(t)

	type result struct {
		form    *enrollment.Form
		outcome Outcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		form, outcome, err := env.svc.Submit(context.Background(), id)
		done <- result{form, outcome, err}
	}()

	<-env.submitter.started
	store.failNext(n)
	close(env.submitter.release)

	res := <-done
	env.submitter.started = nil
	env.submitter.release = nil
	return id, res.form, res.outcome, res.err
}

func newFlakyEnv(t *testing.T) (*testEnv, *flakyStore) {
	env := newTestEnv(t, Options{})
	store := &flakyStore{MemoryStore: env.store}
	env.svc.store = store
	env.svc.persistDelay = time.Millisecond
	return env, store
}

func TestService_Submit_OutcomeSaveRetried(t *testing.T) {
	env, store := newFlakyEnv(t)

	id, form, outcome, err := submitWithFailingSaves(t, env, store, 1)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.Equal(t, enrollment.StatusSuccess, form.Status)
	assert.False(t, form.Submitting)

	stored, err := env.svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, stored.Submitting)
	assert.Equal(t, enrollment.StatusSuccess, stored.Status)
	assert.NotNil(t, env.scheduler.last())
}

func TestService_Submit_UnsavedOutcomeDoesNotBlockRetry(t *testing.T) {
	env, store := newFlakyEnv(t)
	ctx := context.Background()

	id, _, outcome, err := submitWithFailingSaves(t, env, store, persistAttempts)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionStoreFailed))
	assert.Equal(t, OutcomeSuccess, outcome)

	stuck, err := env.svc.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, stuck.Submitting)
	assert.Empty(t, env.svc.inflight)

	for i := 0; i < 3; i++ {
		form, outcome, err := env.svc.Submit(ctx, id)
		require.NoError(t, err, "attempt %d", i)
		assert.Equal(t, OutcomeSuccess, outcome)
		assert.False(t, form.Submitting)
		assert.Equal(t, enrollment.StatusSuccess, form.Status)
	}
	assert.Equal(t, 4, env.submitter.callCount())
}

func TestService_Submit_StaleFlagFromEarlierProcess(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.startOnFinalStep(t)
	ctx := context.Background()

	// left behind by a process that stopped mid-call
	form, err := env.store.Load(ctx, id)
	require.NoError(t, err)
	form.BeginSubmission("ghost")
	require.NoError(t, env.store.Save(ctx, form))

	got, outcome, err := env.svc.Submit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.False(t, got.Submitting)
	assert.NotEqual(t, "ghost", got.SubmissionID)
	assert.Equal(t, 1, env.submitter.callCount())
}

func TestService_Submit_DiscardedDuringCallIsNotRetried(t *testing.T) {
	env, store := newFlakyEnv(t)
	env.submitter.started = make(chan struct{})
	env.submitter.release = make(chan struct{})
	id := env.startOnFinalStep(t)
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		_, _, err := env.svc.Submit(ctx, id)
		errc <- err
	}()

	<-env.submitter.started
	require.NoError(t, env.svc.Discard(ctx, id))
	store.mu.Lock()
	savesBefore := store.saves
	store.mu.Unlock()
	close(env.submitter.release)

	err := <-errc
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound))
	assert.Equal(t, savesBefore, store.saves)
	assert.Nil(t, env.scheduler.last())
	assert.Empty(t, env.svc.inflight)
}

func TestService_Submit_AuditFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.audit.err = apperrors.NewAuditInsertFailedError(errors.New("db down"))
	id := env.startOnFinalStep(t)

	form, outcome, err := env.svc.Submit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.Equal(t, enrollment.StatusSuccess, form.Status)
}

func TestService_Submit_TimeoutBoundsCall(t *testing.T) {
	env := newTestEnv(t, Options{SubmitTimeout: 20 * time.Millisecond})
	env.svc.submitter = submitterFunc(func(ctx context.Context, _ enrollment.FieldSet) error {
		<-ctx.Done()
		return apperrors.NewSubmissionTransportFailedError(ctx.Err())
	})
	id := env.startOnFinalStep(t)

	form, outcome, err := env.svc.Submit(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, outcome)
	assert.Equal(t, enrollment.StatusError, form.Status)
}

type submitterFunc func(ctx context.Context, fields enrollment.FieldSet) error

func (f submitterFunc) Submit(ctx context.Context, fields enrollment.FieldSet) error {
	return f(ctx, fields)
}

func TestService_Discard(t *testing.T) {
	env := newTestEnv(t, Options{})
	id := env.startOnFinalStep(t)
	ctx := context.Background()

	_, _, err := env.svc.Submit(ctx, id)
	require.NoError(t, err)
	timer := env.scheduler.last()

	require.NoError(t, env.svc.Discard(ctx, id))
	assert.True(t, timer.stopped)
	assert.Equal(t, 0, env.svc.PendingResets())

	_, err = env.svc.Get(ctx, id)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound))

	// firing after discard is harmless
	assert.NotPanics(t, timer.fn)

	err = env.svc.Discard(ctx, id)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound))
}
