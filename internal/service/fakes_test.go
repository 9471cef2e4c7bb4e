package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bhushan44/hospital-surgoen-sub005/internal/model"
	"github.com/bhushan44/hospital-surgoen-sub005/internal/repository"
)

// Monday 2026-03-02 08:00 UTC
var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func day(s string) time.Time {
	d, err := model.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func tod(s string) model.TimeOfDay {
	t, err := model.ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// fakeTx serializes every transaction, standing in for the advisory lock.
type fakeTx struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return fn(ctx)
}

type fakeTemplateStore struct {
	mu        sync.Mutex
	nextID    int64
	templates map[int64]*model.AvailabilityTemplate
	listErr   error
	locks     []string
}

func newFakeTemplateStore(templates ...*model.AvailabilityTemplate) *fakeTemplateStore {
	f := &fakeTemplateStore{templates: make(map[int64]*model.AvailabilityTemplate)}
	for _, t := range templates {
		f.nextID++
		if t.ID == 0 {
			t.ID = f.nextID
		}
		f.templates[t.ID] = t
	}
	return f
}

func (f *fakeTemplateStore) sorted(keep func(t *model.AvailabilityTemplate) bool) []*model.AvailabilityTemplate {
	var out []*model.AvailabilityTemplate
	for _, t := range f.templates {
		if keep(t) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeTemplateStore) Create(ctx context.Context, t *model.AvailabilityTemplate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	t.ID = f.nextID
	t.CreatedAt = testNow
	t.UpdatedAt = testNow
	cp := *t
	f.templates[t.ID] = &cp
	return nil
}

func (f *fakeTemplateStore) GetByID(ctx context.Context, id int64) (*model.AvailabilityTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.templates[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTemplateStore) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*model.AvailabilityTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sorted(func(t *model.AvailabilityTemplate) bool { return t.DoctorID == doctorID }), nil
}

func (f *fakeTemplateStore) ListActive(ctx context.Context, doctorIDs []uuid.UUID) ([]*model.AvailabilityTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	wanted := make(map[uuid.UUID]bool)
	for _, id := range doctorIDs {
		wanted[id] = true
	}
	return f.sorted(func(t *model.AvailabilityTemplate) bool {
		return t.IsActive && (len(wanted) == 0 || wanted[t.DoctorID])
	}), nil
}

func (f *fakeTemplateStore) ListActiveByDoctorWeekday(ctx context.Context, doctorID uuid.UUID, weekday int) ([]*model.AvailabilityTemplate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.sorted(func(t *model.AvailabilityTemplate) bool {
		return t.IsActive && t.DoctorID == doctorID && t.Weekday == weekday
	}), nil
}

func (f *fakeTemplateStore) Update(ctx context.Context, t *model.AvailabilityTemplate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.templates[t.ID]; !ok {
		return repository.ErrNotFound
	}
	t.UpdatedAt = testNow
	cp := *t
	f.templates[t.ID] = &cp
	return nil
}

func (f *fakeTemplateStore) Deactivate(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.templates[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.IsActive = false
	return nil
}

func (f *fakeTemplateStore) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.templates[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.templates, id)
	return nil
}

func (f *fakeTemplateStore) LockDoctorWeekday(ctx context.Context, doctorID uuid.UUID, weekday int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locks = append(f.locks, fmt.Sprintf("%s:%d", doctorID, weekday))
	return nil
}

type fakeSlotStore struct {
	mu      sync.Mutex
	nextID  int64
	slots   []*model.AvailabilitySlot
	failFor map[uuid.UUID]error
	listErr error
	inserts int
}

func newFakeSlotStore(slots ...*model.AvailabilitySlot) *fakeSlotStore {
	f := &fakeSlotStore{failFor: make(map[uuid.UUID]error)}
	for _, s := range slots {
		f.nextID++
		s.ID = f.nextID
		s.Date = model.NormalizeDate(s.Date)
		f.slots = append(f.slots, s)
	}
	return f
}

func sameSlotKey(a, b *model.AvailabilitySlot) bool {
	return a.DoctorID == b.DoctorID && a.Date.Equal(b.Date) && a.Start == b.Start && a.End == b.End
}

func (f *fakeSlotStore) InsertIfAbsent(ctx context.Context, slot *model.AvailabilitySlot) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if err := f.failFor[slot.DoctorID]; err != nil {
		return false, err
	}
	slot.Date = model.NormalizeDate(slot.Date)
	for _, s := range f.slots {
		if sameSlotKey(s, slot) {
			return false, nil
		}
	}
	f.nextID++
	slot.ID = f.nextID
	cp := *slot
	f.slots = append(f.slots, &cp)
	return true, nil
}

func (f *fakeSlotStore) CreateManual(ctx context.Context, slot *model.AvailabilitySlot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	slot.Date = model.NormalizeDate(slot.Date)
	for _, s := range f.slots {
		if sameSlotKey(s, slot) {
			return repository.ErrDuplicateSlot
		}
	}
	f.nextID++
	slot.ID = f.nextID
	slot.TemplateID = nil
	cp := *slot
	f.slots = append(f.slots, &cp)
	return nil
}

func (f *fakeSlotStore) GetByID(ctx context.Context, id int64) (*model.AvailabilitySlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.slots {
		if s.ID == id {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeSlotStore) ListByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*model.AvailabilitySlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	date = model.NormalizeDate(date)
	var out []*model.AvailabilitySlot
	for _, s := range f.slots {
		if s.DoctorID == doctorID && s.Date.Equal(date) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func (f *fakeSlotStore) Update(ctx context.Context, slot *model.AvailabilitySlot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var target *model.AvailabilitySlot
	for _, s := range f.slots {
		if s.ID == slot.ID {
			target = s
			continue
		}
		if sameSlotKey(s, slot) {
			return repository.ErrDuplicateSlot
		}
	}
	if target == nil {
		return repository.ErrNotFound
	}
	*target = *slot
	target.TemplateID = nil
	return nil
}

func (f *fakeSlotStore) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.slots {
		if s.ID == id {
			f.slots = append(f.slots[:i], f.slots[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (f *fakeSlotStore) OpenMinutes(ctx context.Context, filter model.StatsFilter) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, s := range f.slots {
		if inFilter(filter, s.DoctorID, s.Date) {
			total += int64(s.Window().Minutes())
		}
	}
	return total, nil
}

func (f *fakeSlotStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.slots)
}

type fakeBookingStore struct {
	mu           sync.Mutex
	nextID       int64
	bookings     []*model.Booking
	createErrs   []error
	beforeCreate func(f *fakeBookingStore)
	listErr      error
	locks        int
}

func newFakeBookingStore(bookings ...*model.Booking) *fakeBookingStore {
	f := &fakeBookingStore{}
	for _, b := range bookings {
		f.insertLocked(b)
	}
	return f
}

// insertLocked stores b as is; the caller holds mu or owns f exclusively.
func (f *fakeBookingStore) insertLocked(b *model.Booking) {
	f.nextID++
	b.ID = f.nextID
	b.Date = model.NormalizeDate(b.Date)
	f.bookings = append(f.bookings, b)
}

func (f *fakeBookingStore) Create(ctx context.Context, booking *model.Booking) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.beforeCreate != nil {
		hook := f.beforeCreate
		f.beforeCreate = nil
		hook(f)
	}
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		return err
	}

	date := model.NormalizeDate(booking.Date)
	for _, b := range f.bookings {
		if booking.IdempotencyKey != nil && b.IdempotencyKey != nil && *b.IdempotencyKey == *booking.IdempotencyKey {
			return repository.ErrDuplicateIdempotencyKey
		}
		if b.DoctorID == booking.DoctorID && b.Date.Equal(date) && b.IsActive() && booking.IsActive() &&
			b.Window().Overlaps(booking.Window()) {
			return repository.ErrBookingOverlap
		}
	}

	booking.CreatedAt = testNow
	booking.UpdatedAt = testNow
	cp := *booking
	f.insertLocked(&cp)
	booking.ID = cp.ID
	return nil
}

func (f *fakeBookingStore) GetByID(ctx context.Context, id int64) (*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bookings {
		if b.ID == id {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeBookingStore) UpdateStatus(ctx context.Context, id int64, status model.BookingStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var target *model.Booking
	for _, b := range f.bookings {
		if b.ID == id {
			target = b
		}
	}
	if target == nil {
		return repository.ErrNotFound
	}
	if status.IsActive() {
		for _, b := range f.bookings {
			if b.ID != id && b.DoctorID == target.DoctorID && b.Date.Equal(target.Date) && b.IsActive() &&
				b.Window().Overlaps(target.Window()) {
				return repository.ErrBookingOverlap
			}
		}
	}
	target.Status = status
	return nil
}

func (f *fakeBookingStore) GetByIdempotencyKey(ctx context.Context, key string) (*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.bookings {
		if b.IdempotencyKey != nil && *b.IdempotencyKey == key {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeBookingStore) ListActiveByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*model.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	date = model.NormalizeDate(date)
	var out []*model.Booking
	for _, b := range f.bookings {
		if b.DoctorID == doctorID && b.Date.Equal(date) && b.IsActive() {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeBookingStore) LockDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locks++
	return nil
}

func (f *fakeBookingStore) CountByStatus(ctx context.Context, filter model.StatsFilter) (map[model.BookingStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[model.BookingStatus]int)
	for _, b := range f.bookings {
		if inFilter(filter, b.DoctorID, b.Date) {
			counts[b.Status]++
		}
	}
	return counts, nil
}

func (f *fakeBookingStore) CountByDoctor(ctx context.Context, filter model.StatsFilter) (map[uuid.UUID]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[uuid.UUID]int)
	for _, b := range f.bookings {
		if inFilter(filter, b.DoctorID, b.Date) {
			counts[b.DoctorID]++
		}
	}
	return counts, nil
}

func (f *fakeBookingStore) BookedMinutes(ctx context.Context, filter model.StatsFilter) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for _, b := range f.bookings {
		if b.Status != model.BookingStatusCancelled && inFilter(filter, b.DoctorID, b.Date) {
			total += int64(b.Window().Minutes())
		}
	}
	return total, nil
}

func (f *fakeBookingStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bookings)
}

func inFilter(filter model.StatsFilter, doctorID uuid.UUID, date time.Time) bool {
	if filter.DoctorID != nil && *filter.DoctorID != doctorID {
		return false
	}
	if !filter.From.IsZero() && date.Before(model.NormalizeDate(filter.From)) {
		return false
	}
	if !filter.To.IsZero() && date.After(model.NormalizeDate(filter.To)) {
		return false
	}
	return true
}

type fakeCache struct {
	mu            sync.Mutex
	entries       map[string][]*model.AvailabilitySlot
	getErr        error
	invalidated   []string
	doctorsPurged []uuid.UUID
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]*model.AvailabilitySlot)}
}

func cacheKey(doctorID uuid.UUID, date time.Time) string {
	return doctorID.String() + ":" + model.NormalizeDate(date).Format(model.DateLayout)
}

func (c *fakeCache) Get(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*model.AvailabilitySlot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	slots, ok := c.entries[cacheKey(doctorID, date)]
	if !ok {
		return nil, repository.ErrCacheMiss
	}
	return slots, nil
}

func (c *fakeCache) Set(ctx context.Context, doctorID uuid.UUID, date time.Time, slots []*model.AvailabilitySlot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(doctorID, date)] = slots
	return nil
}

func (c *fakeCache) Invalidate(ctx context.Context, doctorID uuid.UUID, date time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(doctorID, date)
	delete(c.entries, key)
	c.invalidated = append(c.invalidated, key)
	return nil
}

func (c *fakeCache) InvalidateDoctor(ctx context.Context, doctorID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doctorsPurged = append(c.doctorsPurged, doctorID)
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []*model.Booking
	err  error
	hook func(ctx context.Context)
}

func (n *fakeNotifier) BookingCreated(ctx context.Context, booking *model.Booking) error {
	if n.hook != nil {
		n.hook(ctx)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, booking)
	return n.err
}

type fakeGenerator struct {
	mu       sync.Mutex
	requests []GenerateRequest
	err      error
}

func (g *fakeGenerator) GenerateAvailability(ctx context.Context, req GenerateRequest) (*model.GenerationSummary, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &model.GenerationSummary{}, nil
}
