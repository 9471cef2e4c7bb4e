package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bhushan44/hospital-surgoen-sub005/internal/model"
	"github.com/bhushan44/hospital-surgoen-sub005/internal/repository/base"
)

type bookingFixture struct {
	doctor    uuid.UUID
	hospital  uuid.UUID
	tx        *fakeTx
	templates *fakeTemplateStore
	slots     *fakeSlotStore
	bookings  *fakeBookingStore
	cache     *fakeCache
	notifier  *fakeNotifier
	metrics   *MetricsService
	svc       *BookingService
}

func newBookingFixture(cfg BookingConfig) *bookingFixture {
	f := &bookingFixture{
		doctor:    uuid.New(),
		hospital:  uuid.New(),
		tx:        &fakeTx{},
		templates: newFakeTemplateStore(),
		bookings:  newFakeBookingStore(),
		cache:     newFakeCache(),
		notifier:  &fakeNotifier{},
		metrics:   NewMetricsService(),
	}

	templateID := int64(1)
	f.slots = newFakeSlotStore(&model.AvailabilitySlot{
		DoctorID:   f.doctor,
		TemplateID: &templateID,
		Date:       day("2026-03-02"),
		Start:      tod("09:00"),
		End:        tod("12:00"),
	})

	if cfg.Now == nil {
		cfg.Now = fixedClock(testNow)
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = time.Millisecond
	}

	f.svc = NewBookingService(f.tx, f.slots, f.templates, f.bookings, f.cache, f.notifier, f.metrics, nil, zap.NewNop(), cfg)
	return f
}

func (f *bookingFixture) request(start, end string) BookingRequest {
	return BookingRequest{
		DoctorID:   f.doctor,
		HospitalID: f.hospital,
		Date:       day("2026-03-02"),
		Start:      tod(start),
		End:        tod(end),
	}
}

func (f *bookingFixture) seed(start, end string, status model.BookingStatus) *model.Booking {
	b := &model.Booking{
		DoctorID:   f.doctor,
		HospitalID: uuid.New(),
		Date:       day("2026-03-02"),
		Start:      tod(start),
		End:        tod(end),
		Status:     status,
	}
	f.bookings.insertLocked(b)
	return b
}

func TestCheckAvailabilityFits(t *testing.T) {
	f := newBookingFixture(BookingConfig{})

	out, err := f.svc.CheckAvailability(context.Background(), f.request("09:00", "09:30"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeFits, out.Kind)
	assert.True(t, out.Fits())
	assert.NoError(t, out.Err())
	assert.Equal(t, 0, f.bookings.count())
	assert.Equal(t, 0, f.tx.calls)
}

func TestCheckAvailabilityDoesNotNeedHospital(t *testing.T) {
	f := newBookingFixture(BookingConfig{})
	req := f.request("10:00", "11:00")
	req.HospitalID = uuid.Nil

	out, err := f.svc.CheckAvailability(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFits, out.Kind)
}

func TestCreateBookingCreated(t *testing.T) {
	f := newBookingFixture(BookingConfig{})

	out, err := f.svc.CreateBooking(context.Background(), f.request("09:00", "09:30"))
	require.NoError(t, err)

	require.Equal(t, OutcomeCreated, out.Kind)
	require.NotNil(t, out.Booking)
	assert.NotZero(t, out.Booking.ID)
	assert.Equal(t, model.BookingStatusPending, out.Booking.Status)
	assert.Equal(t, f.hospital, out.Booking.HospitalID)
	assert.False(t, out.Replayed)

	assert.Equal(t, 1, f.bookings.count())
	assert.Equal(t, 1, f.bookings.locks)
	assert.Len(t, f.notifier.sent, 1)
	assert.Equal(t, []string{cacheKey(f.doctor, day("2026-03-02"))}, f.cache.invalidated)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.bookingOutcomes.WithLabelValues("create", "created")))
}

func TestCreateBookingUsesConfiguredInitialStatus(t *testing.T) {
	f := newBookingFixture(BookingConfig{InitialStatus: model.BookingStatusConfirmed})

	out, err := f.svc.CreateBooking(context.Background(), f.request("09:00", "09:30"))
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, out.Kind)
	assert.Equal(t, model.BookingStatusConfirmed, out.Booking.Status)
}

func TestCreateBookingCapacity(t *testing.T) {
	f := newBookingFixture(BookingConfig{})

	out, err := f.svc.CreateBooking(context.Background(), f.request("11:30", "12:30"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeCapacity, out.Kind)
	assert.False(t, out.Fits())
	assert.ErrorIs(t, out.Err(), ErrCapacity)
	assert.Equal(t, 0, f.bookings.count())
	assert.Empty(t, f.notifier.sent)
}

func TestCreateBookingCapacityOnDateWithoutSlots(t *testing.T) {
	f := newBookingFixture(BookingConfig{})
	req := f.request("09:00", "09:30")
	req.Date = day("2026-03-03")

	out, err := f.svc.CreateBooking(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCapacity, out.Kind)
}

func TestCreateBookingConflict(t *testing.T) {
	f := newBookingFixture(BookingConfig{})
	existing := f.seed("09:00", "09:30", model.BookingStatusConfirmed)
	f.seed("10:00", "11:00", model.BookingStatusCancelled)

	out, err := f.svc.CreateBooking(context.Background(), f.request("09:15", "09:45"))
	require.NoError(t, err)

	assert.Equal(t, OutcomeConflict, out.Kind)
	assert.ErrorIs(t, out.Err(), ErrConflict)
	require.Len(t, out.Conflicts, 1)
	assert.Equal(t, existing.ID, out.Conflicts[0].ID)

	// cancelled bookings release their window
	out, err = f.svc.CreateBooking(context.Background(), f.request("10:00", "11:00"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out.Kind)
}

func TestCreateBookingAdjacentWindowsDoNotConflict(t *testing.T) {
	f := newBookingFixture(BookingConfig{})
	f.seed("09:00", "09:30", model.BookingStatusPending)

	out, err := f.svc.CreateBooking(context.Background(), f.request("09:30", "10:00"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out.Kind)
}

func TestCreateBookingValidation(t *testing.T) {
	f := newBookingFixture(BookingConfig{})

	cases := map[string]func(r *BookingRequest){
		"start after end":  func(r *BookingRequest) { r.Start, r.End = tod("10:00"), tod("09:00") },
		"empty window":     func(r *BookingRequest) { r.End = r.Start },
		"missing doctor":   func(r *BookingRequest) { r.DoctorID = uuid.Nil },
		"missing hospital": func(r *BookingRequest) { r.HospitalID = uuid.Nil },
		"missing date":     func(r *BookingRequest) { r.Date = time.Time{} },
		"out of range":     func(r *BookingRequest) { r.End = model.MinutesPerDay + 1 },
		"in the past":      func(r *BookingRequest) { r.Start, r.End = tod("07:00"), tod("07:30") },
		"past date":        func(r *BookingRequest) { r.Date = day("2026-02-23") },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := f.request("09:00", "09:30")
			mutate(&req)

			out, err := f.svc.CreateBooking(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, OutcomeValidation, out.Kind)
			assert.NotEmpty(t, out.Reason)
			assert.ErrorIs(t, out.Err(), ErrValidation)
		})
	}

	assert.Equal(t, 0, f.bookings.count())
	assert.Equal(t, 0, f.tx.calls)
}

func TestCreateBookingConcurrentOverlapOnlyOneWins(t *testing.T) {
	f := newBookingFixture(BookingConfig{})
	requests := []BookingRequest{f.request("09:00", "09:30"), f.request("09:15", "09:45")}

	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		outcomes = make([]*Outcome, len(requests))
		errs     = make([]error, len(requests))
	)
	for i, req := range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			outcomes[i], errs[i] = f.svc.CreateBooking(context.Background(), req)
		}()
	}
	close(start)
	wg.Wait()

	kinds := map[OutcomeKind]int{}
	for i := range requests {
		require.NoError(t, errs[i])
		kinds[outcomes[i].Kind]++
	}
	assert.Equal(t, map[OutcomeKind]int{OutcomeCreated: 1, OutcomeConflict: 1}, kinds)
	assert.Equal(t, 1, f.bookings.count())
}

func TestCreateBookingIdempotentReplay(t *testing.T) {
	f := newBookingFixture(BookingConfig{})
	req := f.request("09:00", "09:30")
	req.IdempotencyKey = "req-42"

	first, err := f.svc.CreateBooking(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, first.Kind)

	second, err := f.svc.CreateBooking(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, second.Kind)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Booking.ID, second.Booking.ID)

	assert.Equal(t, 1, f.bookings.count())
	assert.Len(t, f.notifier.sent, 1)
}

func TestCreateBookingIdempotencyKeyRace(t *testing.T) {
	f := newBookingFixture(BookingConfig{})
	req := f.request("09:00", "09:30")
	req.IdempotencyKey = "req-7"

	// another process stores the same request between the lookup and the insert
	f.bookings.beforeCreate = func(s *fakeBookingStore) {
		key := "req-7"
		s.insertLocked(&model.Booking{
			DoctorID:       f.doctor,
			HospitalID:     f.hospital,
			Date:           day("2026-03-02"),
			Start:          tod("09:00"),
			End:            tod("09:30"),
			Status:         model.BookingStatusPending,
			IdempotencyKey: &key,
		})
	}

	out, err := f.svc.CreateBooking(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out.Kind)
	assert.True(t, out.Replayed)
	assert.Equal(t, 1, f.bookings.count())
	assert.Empty(t, f.notifier.sent)
}

// barrierTx holds every caller until all of them have reached the transaction.
type barrierTx struct {
	inner   *fakeTx
	arrived sync.WaitGroup
}

func (b *barrierTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	b.arrived.Done()
	b.arrived.Wait()
	return b.inner.WithinTx(ctx, fn)
}

func TestCreateBookingConcurrentRetriesWithSameKeyReplay(t *testing.T) {
	f := newBookingFixture(BookingConfig{})
	tx := &barrierTx{inner: f.tx}
	tx.arrived.Add(2)
	svc := NewBookingService(tx, f.slots, f.templates, f.bookings, f.cache, f.notifier, f.metrics, nil, zap.NewNop(),
		BookingConfig{Now: fixedClock(testNow), RetryBaseDelay: time.Millisecond})

	req := f.request("09:00", "09:30")
	req.IdempotencyKey = "client-retry-1"

	var (
		wg       sync.WaitGroup
		outcomes = make([]*Outcome, 2)
		errs     = make([]error, 2)
	)
	for i := range outcomes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i], errs[i] = svc.CreateBooking(context.Background(), req)
		}()
	}
	wg.Wait()

	replays := 0
	for i := range outcomes {
		require.NoError(t, errs[i])
		require.Equal(t, OutcomeCreated, outcomes[i].Kind)
		if outcomes[i].Replayed {
			replays++
		}
	}
	assert.Equal(t, 1, replays)
	assert.Equal(t, outcomes[0].Booking.ID, outcomes[1].Booking.ID)
	assert.Equal(t, 1, f.bookings.count())
	assert.Len(t, f.notifier.sent, 1)
}

func TestCreateBookingExclusionConstraintRace(t *testing.T) {
	f := newBookingFixture(BookingConfig{})

	f.bookings.beforeCreate = func(s *fakeBookingStore) {
		s.insertLocked(&model.Booking{
			DoctorID:   f.doctor,
			HospitalID: uuid.New(),
			Date:       day("2026-03-02"),
			Start:      tod("09:20"),
			End:        tod("09:50"),
			Status:     model.BookingStatusConfirmed,
		})
	}

	out, err := f.svc.CreateBooking(context.Background(), f.request("09:00", "09:30"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, out.Kind)
	require.Len(t, out.Conflicts, 1)
	assert.Equal(t, tod("09:20"), out.Conflicts[0].Start)
	assert.Empty(t, f.notifier.sent)
}

func TestCreateBookingRetriesTransientErrors(t *testing.T) {
	f := newBookingFixture(BookingConfig{MaxRetries: 3})
	f.bookings.createErrs = []error{&pgconn.PgError{Code: base.CodeSerializationFailure}}

	out, err := f.svc.CreateBooking(context.Background(), f.request("09:00", "09:30"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out.Kind)
	assert.Equal(t, 2, f.tx.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.bookingRetries))
}

func TestCreateBookingGivesUpAfterMaxRetries(t *testing.T) {
	f := newBookingFixture(BookingConfig{MaxRetries: 1})
	f.bookings.createErrs = []error{
		&pgconn.PgError{Code: base.CodeDeadlockDetected},
		&pgconn.PgError{Code: base.CodeDeadlockDetected},
	}

	out, err := f.svc.CreateBooking(context.Background(), f.request("09:00", "09:30"))
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, base.IsTransient(err))
	assert.Equal(t, 2, f.tx.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.bookingOutcomes.WithLabelValues("create", "error")))
}

func TestCreateBookingStoreFailure(t *testing.T) {
	f := newBookingFixture(BookingConfig{})
	f.bookings.listErr = errors.New("connection refused")

	out, err := f.svc.CreateBooking(context.Background(), f.request("09:00", "09:30"))
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCreateBookingManualAvailabilityMode(t *testing.T) {
	f := newBookingFixture(BookingConfig{AllowManualAvailability: true})
	// templates are the source of truth here; the generated slot is ignored
	f.slots = newFakeSlotStore()
	f.svc.slots = f.slots

	expires := day("2026-03-01")
	require.NoError(t, f.templates.Create(context.Background(), &model.AvailabilityTemplate{
		DoctorID: f.doctor, Weekday: int(time.Monday), Start: tod("13:00"), End: tod("15:00"), IsActive: true,
	}))
	require.NoError(t, f.templates.Create(context.Background(), &model.AvailabilityTemplate{
		DoctorID: f.doctor, Weekday: int(time.Monday), Start: tod("16:00"), End: tod("18:00"), IsActive: true,
		ExpiresOn: &expires,
	}))

	out, err := f.svc.CreateBooking(context.Background(), f.request("13:30", "14:00"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out.Kind)

	out, err = f.svc.CreateBooking(context.Background(), f.request("16:00", "16:30"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCapacity, out.Kind, "expired template")

	out, err = f.svc.CreateBooking(context.Background(), f.request("09:00", "09:30"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCapacity, out.Kind)
}

func TestCreateBookingNotifierFailureDoesNotFailBooking(t *testing.T) {
	f := newBookingFixture(BookingConfig{})
	f.notifier.err = errors.New("telegram unavailable")

	out, err := f.svc.CreateBooking(context.Background(), f.request("09:00", "09:30"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out.Kind)
}

func TestCreateBookingNotifiesAfterCallerCancels(t *testing.T) {
	f := newBookingFixture(BookingConfig{NotifyTimeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		notifyErr   error
		hasDeadline bool
	)
	f.notifier.hook = func(nctx context.Context) {
		cancel()
		notifyErr = nctx.Err()
		_, hasDeadline = nctx.Deadline()
	}

	out, err := f.svc.CreateBooking(ctx, f.request("09:00", "09:30"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out.Kind)
	assert.NoError(t, notifyErr)
	assert.True(t, hasDeadline)
	assert.Len(t, f.notifier.sent, 1)
}

func TestUpdateStatusCancelFreesWindow(t *testing.T) {
	f := newBookingFixture(BookingConfig{})
	held := f.seed("09:00", "10:00", model.BookingStatusConfirmed)
	ctx := context.Background()

	out, err := f.svc.CheckAvailability(ctx, f.request("09:30", "10:00"))
	require.NoError(t, err)
	require.Equal(t, OutcomeConflict, out.Kind)

	updated, err := f.svc.UpdateStatus(ctx, held.ID, model.BookingStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusCancelled, updated.Status)
	assert.Equal(t, []string{cacheKey(f.doctor, day("2026-03-02"))}, f.cache.invalidated)

	out, err = f.svc.CheckAvailability(ctx, f.request("09:30", "10:00"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeFits, out.Kind)
}

func TestUpdateStatusReactivationConflict(t *testing.T) {
	f := newBookingFixture(BookingConfig{})
	cancelled := f.seed("09:00", "10:00", model.BookingStatusCancelled)
	f.seed("09:30", "10:30", model.BookingStatusPending)

	_, err := f.svc.UpdateStatus(context.Background(), cancelled.ID, model.BookingStatusConfirmed)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Empty(t, f.cache.invalidated)
}

func TestUpdateStatusErrors(t *testing.T) {
	f := newBookingFixture(BookingConfig{})
	held := f.seed("09:00", "10:00", model.BookingStatusPending)

	_, err := f.svc.UpdateStatus(context.Background(), 999, model.BookingStatusCancelled)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.UpdateStatus(context.Background(), held.ID, model.BookingStatus("archived"))
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, f.cache.invalidated)
}

func TestOutcomeErr(t *testing.T) {
	assert.NoError(t, (&Outcome{Kind: OutcomeFits}).Err())
	assert.NoError(t, (&Outcome{Kind: OutcomeCreated}).Err())
	assert.Equal(t, ErrCapacity, (&Outcome{Kind: OutcomeCapacity}).Err())

	err := (&Outcome{Kind: OutcomeConflict, Reason: "09:00-09:30 overlaps"}).Err()
	assert.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "09:00-09:30 overlaps")
}
