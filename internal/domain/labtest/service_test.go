package labtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinic/clinic/internal/domain/identity"
	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/notification"
)

// -- Mock Repositories --

type mockCatalog struct {
	tests map[uuid.UUID]*LabTest
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{tests: make(map[uuid.UUID]*LabTest)}
}

func (m *mockCatalog) Create(_ context.Context, t *LabTest) error {
	t.ID = uuid.New()
	m.tests[t.ID] = t
	return nil
}

func (m *mockCatalog) GetByID(_ context.Context, id uuid.UUID) (*LabTest, error) {
	t, ok := m.tests[id]
	if !ok {
		return nil, fmt.Errorf("lab test: %w", apperr.ErrNotFound)
	}
	return t, nil
}

func (m *mockCatalog) Update(_ context.Context, t *LabTest) error {
	m.tests[t.ID] = t
	return nil
}

func (m *mockCatalog) List(_ context.Context, activeOnly bool, limit, offset int) ([]*LabTest, int, error) {
	var items []*LabTest
	for _, t := range m.tests {
		if activeOnly && !t.Active {
			continue
		}
		items = append(items, t)
	}
	return items, len(items), nil
}

type mockBookingRepo struct {
	mu        sync.Mutex
	bookings  map[uuid.UUID]*TestBooking
	createErr error
	createCtx context.Context
}

func newMockBookingRepo() *mockBookingRepo {
	return &mockBookingRepo{bookings: make(map[uuid.UUID]*TestBooking)}
}

func (m *mockBookingRepo) Create(ctx context.Context, b *TestBooking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCtx = ctx
	if m.createErr != nil {
		return m.createErr
	}
	b.ID = uuid.New()
	b.CreatedAt = time.Now()
	b.UpdatedAt = time.Now()
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *mockBookingRepo) GetByID(_ context.Context, id uuid.UUID) (*TestBooking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("test booking: %w", apperr.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (m *mockBookingRepo) UpdateStatus(_ context.Context, b *TestBooking, expected Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.bookings[b.ID]
	if !ok || stored.Status != expected {
		return fmt.Errorf("test booking %s: status changed concurrently: %w", b.ID, apperr.ErrInvalidTransition)
	}
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *mockBookingRepo) AttachPayment(_ context.Context, id, paymentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return fmt.Errorf("test booking: %w", apperr.ErrNotFound)
	}
	b.PaymentID = &paymentID
	return nil
}

func (m *mockBookingRepo) Search(_ context.Context, p BookingSearchParams) ([]*TestBooking, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []*TestBooking
	for _, b := range m.bookings {
		if p.PatientID != nil && (b.PatientID == nil || *b.PatientID != *p.PatientID) {
			continue
		}
		if p.Status != nil && b.Status != *p.Status {
			continue
		}
		cp := *b
		items = append(items, &cp)
	}
	return items, len(items), nil
}

type mockPatients struct {
	patients map[uuid.UUID]*identity.Patient
}

func (m *mockPatients) GetPatient(_ context.Context, id uuid.UUID) (*identity.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, fmt.Errorf("patient: %w", apperr.ErrNotFound)
	}
	return p, nil
}

type recordedNotification struct {
	Kind  notification.Kind
	Phone string
	Args  notification.Args
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []recordedNotification
}

func (f *fakeNotifier) Notify(kind notification.Kind, phone string, args notification.Args) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, recordedNotification{Kind: kind, Phone: phone, Args: args})
}

func (f *fakeNotifier) calls() []recordedNotification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedNotification(nil), f.sent...)
}

// -- Fixtures --

func passTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestService(t *testing.T) (*Service, *mockCatalog, *mockBookingRepo, *mockPatients, *fakeNotifier) {
	t.Helper()
	catalog := newMockCatalog()
	repo := newMockBookingRepo()
	patients := &mockPatients{patients: make(map[uuid.UUID]*identity.Patient)}
	notifier := &fakeNotifier{}
	return NewService(catalog, repo, patients, passTx, notifier), catalog, repo, patients, notifier
}

func seedTest(catalog *mockCatalog, name string, price, homeFee int64, homeAvailable bool) *LabTest {
	t := &LabTest{
		ID:                      uuid.New(),
		Name:                    name,
		Code:                    name,
		Price:                   price,
		HomeCollectionAvailable: homeAvailable,
		HomeCollectionFee:       homeFee,
		Active:                  true,
	}
	catalog.tests[t.ID] = t
	return t
}

func seedPatient(patients *mockPatients) *identity.Patient {
	p := &identity.Patient{ID: uuid.New(), Name: "Asha", Phone: "+919800000001"}
	patients.patients[p.ID] = p
	return p
}

func walkInRequest(patientID uuid.UUID, testIDs ...uuid.UUID) BookingRequest {
	return BookingRequest{
		PatientID:      &patientID,
		TestIDs:        testIDs,
		CollectionType: CollectionWalkIn,
		ScheduledDate:  time.Date(2026, 9, 18, 0, 0, 0, 0, time.UTC),
		TimeSlot:       "08:00-08:30",
	}
}

func labTech() auth.Actor {
	return auth.Actor{ID: uuid.New(), Role: auth.RoleLabTechnician}
}

// -- Tests --

func TestCreateBookingFreezesPrices(t *testing.T) {
	svc, catalog, _, patients, notifier := newTestService(t)
	cbc := seedTest(catalog, "CBC", 300, 50, true)
	lipid := seedTest(catalog, "LIPID", 500, 50, true)
	patient := seedPatient(patients)

	b, err := svc.CreateBooking(context.Background(), walkInRequest(patient.ID, cbc.ID, lipid.ID))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	if b.TotalAmount != 800 {
		t.Errorf("total = %d, want 800", b.TotalAmount)
	}
	if len(b.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(b.Items))
	}

	// A later catalog price change must not move the booked amount.
	cbc.Price = 999
	got, err := svc.GetBooking(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("GetBooking: %v", err)
	}
	if got.TotalAmount != 800 {
		t.Errorf("total after price change = %d, want 800", got.TotalAmount)
	}

	sent := notifier.calls()
	if len(sent) != 1 || sent[0].Kind != notification.KindTestBooked {
		t.Fatalf("notifications = %+v, want one test-booked", sent)
	}
}

func TestCreateBookingHomeCollectionFee(t *testing.T) {
	svc, catalog, _, patients, _ := newTestService(t)
	cbc := seedTest(catalog, "CBC", 300, 50, true)
	lipid := seedTest(catalog, "LIPID", 500, 50, true)
	patient := seedPatient(patients)

	addr := "12 MG Road"
	req := walkInRequest(patient.ID, cbc.ID, lipid.ID)
	req.CollectionType = CollectionHome
	req.CollectionAddress = &addr

	b, err := svc.CreateBooking(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	if b.TotalAmount != 900 {
		t.Errorf("total = %d, want 900 (each item carries its home fee)", b.TotalAmount)
	}
	for _, item := range b.Items {
		want := int64(350)
		if item.TestName == "LIPID" {
			want = 550
		}
		if item.Price != want {
			t.Errorf("item %s price = %d, want %d", item.TestName, item.Price, want)
		}
	}
}

type txMarkKey struct{}

func TestCreateBookingRunsInTransaction(t *testing.T) {
	catalog := newMockCatalog()
	repo := newMockBookingRepo()
	patients := &mockPatients{patients: make(map[uuid.UUID]*identity.Patient)}
	markTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return fn(context.WithValue(ctx, txMarkKey{}, true))
	}
	svc := NewService(catalog, repo, patients, markTx, &fakeNotifier{})
	cbc := seedTest(catalog, "CBC", 300, 50, true)
	patient := seedPatient(patients)

	if _, err := svc.CreateBooking(context.Background(), walkInRequest(patient.ID, cbc.ID)); err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	if repo.createCtx == nil || repo.createCtx.Value(txMarkKey{}) == nil {
		t.Error("booking insert ran outside the transaction runner")
	}
}

func TestCreateBookingWriteFailure(t *testing.T) {
	svc, catalog, repo, patients, notifier := newTestService(t)
	cbc := seedTest(catalog, "CBC", 300, 50, true)
	patient := seedPatient(patients)
	repo.createErr = errors.New("insert blew up")

	_, err := svc.CreateBooking(context.Background(), walkInRequest(patient.ID, cbc.ID))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(repo.bookings) != 0 {
		t.Errorf("bookings persisted = %d, want 0", len(repo.bookings))
	}
	if calls := notifier.calls(); len(calls) != 0 {
		t.Errorf("notifications = %+v, want none", calls)
	}
}

func TestCreateBookingHomeCollectionUnsupported(t *testing.T) {
	svc, catalog, _, patients, _ := newTestService(t)
	cbc := seedTest(catalog, "CBC", 300, 0, false)
	patient := seedPatient(patients)

	addr := "12 MG Road"
	req := walkInRequest(patient.ID, cbc.ID)
	req.CollectionType = CollectionHome
	req.CollectionAddress = &addr

	_, err := svc.CreateBooking(context.Background(), req)
	if !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
}

func TestCreateBookingValidation(t *testing.T) {
	svc, catalog, _, patients, _ := newTestService(t)
	cbc := seedTest(catalog, "CBC", 300, 50, true)
	inactive := seedTest(catalog, "OLD", 100, 0, false)
	inactive.Active = false
	patient := seedPatient(patients)

	tests := []struct {
		name string
		mod  func(*BookingRequest)
	}{
		{"no tests", func(r *BookingRequest) { r.TestIDs = nil }},
		{"unknown test", func(r *BookingRequest) { r.TestIDs = []uuid.UUID{uuid.New()} }},
		{"inactive test", func(r *BookingRequest) { r.TestIDs = []uuid.UUID{inactive.ID} }},
		{"missing date", func(r *BookingRequest) { r.ScheduledDate = time.Time{} }},
		{"missing slot", func(r *BookingRequest) { r.TimeSlot = "" }},
		{"bad collection type", func(r *BookingRequest) { r.CollectionType = "drone" }},
		{"home without address", func(r *BookingRequest) { r.CollectionType = CollectionHome }},
		{"guest without phone", func(r *BookingRequest) {
			r.PatientID = nil
			name := "Walk In"
			r.GuestName = &name
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := walkInRequest(patient.ID, cbc.ID)
			tt.mod(&req)
			if _, err := svc.CreateBooking(context.Background(), req); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestTransitionChain(t *testing.T) {
	svc, catalog, _, patients, notifier := newTestService(t)
	cbc := seedTest(catalog, "CBC", 300, 50, true)
	patient := seedPatient(patients)
	ctx := context.Background()
	actor := labTech()

	b, err := svc.CreateBooking(ctx, walkInRequest(patient.ID, cbc.ID))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	for _, target := range []Status{StatusConfirmed, StatusSampleCollected, StatusInProgress, StatusCompleted} {
		if b, err = svc.Transition(ctx, b.ID, target, actor, ""); err != nil {
			t.Fatalf("transition to %s: %v", target, err)
		}
		if b.Status != target {
			t.Fatalf("status = %s, want %s", b.Status, target)
		}
	}
	if b.SampleCollectedAt == nil {
		t.Error("sample_collected_at not stamped")
	}
	if b.ConfirmedBy == nil || *b.ConfirmedBy != actor.ID {
		t.Error("confirmed_by not stamped")
	}

	kinds := []notification.Kind{}
	for _, n := range notifier.calls() {
		kinds = append(kinds, n.Kind)
	}
	want := []notification.Kind{notification.KindTestBooked, notification.KindTestConfirmed}
	if len(kinds) != len(want) {
		t.Fatalf("notification kinds = %v, want %v", kinds, want)
	}
}

func TestTransitionSkipsRejected(t *testing.T) {
	svc, catalog, _, patients, _ := newTestService(t)
	cbc := seedTest(catalog, "CBC", 300, 50, true)
	patient := seedPatient(patients)
	ctx := context.Background()

	b, err := svc.CreateBooking(ctx, walkInRequest(patient.ID, cbc.ID))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}

	// Cannot jump straight from pending to sample_collected.
	_, err = svc.Transition(ctx, b.ID, StatusSampleCollected, labTech(), "")
	if !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestCancelFromAnyNonTerminal(t *testing.T) {
	svc, catalog, _, patients, _ := newTestService(t)
	cbc := seedTest(catalog, "CBC", 300, 50, true)
	patient := seedPatient(patients)
	ctx := context.Background()
	actor := labTech()

	chains := [][]Status{
		{},
		{StatusConfirmed},
		{StatusConfirmed, StatusSampleCollected},
		{StatusConfirmed, StatusSampleCollected, StatusInProgress},
	}
	for _, chain := range chains {
		b, err := svc.CreateBooking(ctx, walkInRequest(patient.ID, cbc.ID))
		if err != nil {
			t.Fatalf("CreateBooking: %v", err)
		}
		for _, target := range chain {
			if b, err = svc.Transition(ctx, b.ID, target, actor, ""); err != nil {
				t.Fatalf("transition to %s: %v", target, err)
			}
		}
		if _, err := svc.Transition(ctx, b.ID, StatusCancelled, actor, "no show"); err != nil {
			t.Errorf("cancel from %s: %v", b.Status, err)
		}
	}
}

func TestCompleteWithReport(t *testing.T) {
	svc, catalog, repo, patients, notifier := newTestService(t)
	cbc := seedTest(catalog, "CBC", 300, 50, true)
	patient := seedPatient(patients)
	ctx := context.Background()
	actor := labTech()

	b, err := svc.CreateBooking(ctx, walkInRequest(patient.ID, cbc.ID))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	for _, target := range []Status{StatusConfirmed, StatusSampleCollected} {
		if b, err = svc.Transition(ctx, b.ID, target, actor, ""); err != nil {
			t.Fatalf("transition to %s: %v", target, err)
		}
	}

	reportID := uuid.New()
	if err := svc.CompleteWithReport(ctx, b.ID, reportID); err != nil {
		t.Fatalf("CompleteWithReport: %v", err)
	}
	stored := repo.bookings[b.ID]
	if stored.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", stored.Status)
	}
	if stored.ReportID == nil || *stored.ReportID != reportID {
		t.Error("report not attached")
	}

	sent := notifier.calls()
	if sent[len(sent)-1].Kind != notification.KindReportReady {
		t.Errorf("last notification = %s, want report-ready", sent[len(sent)-1].Kind)
	}
}

func TestCompleteWithReportBeforeCollection(t *testing.T) {
	svc, catalog, _, patients, _ := newTestService(t)
	cbc := seedTest(catalog, "CBC", 300, 50, true)
	patient := seedPatient(patients)
	ctx := context.Background()

	b, err := svc.CreateBooking(ctx, walkInRequest(patient.ID, cbc.ID))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	err = svc.CompleteWithReport(ctx, b.ID, uuid.New())
	if !errors.Is(err, apperr.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestBookingPaymentInfo(t *testing.T) {
	svc, catalog, _, patients, _ := newTestService(t)
	cbc := seedTest(catalog, "CBC", 300, 50, true)
	lipid := seedTest(catalog, "LIPID", 500, 50, true)
	patient := seedPatient(patients)
	ctx := context.Background()

	b, err := svc.CreateBooking(ctx, walkInRequest(patient.ID, cbc.ID, lipid.ID))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	info, err := svc.PaymentInfo(ctx, b.ID)
	if err != nil {
		t.Fatalf("PaymentInfo: %v", err)
	}
	if info.Amount != b.TotalAmount {
		t.Errorf("amount = %d, want %d", info.Amount, b.TotalAmount)
	}
	if info.Phone != patient.Phone {
		t.Errorf("phone = %s", info.Phone)
	}
	if info.Reference != b.Reference() {
		t.Errorf("reference = %s", info.Reference)
	}
}

func TestBookingPaymentInfoCancelled(t *testing.T) {
	svc, catalog, _, patients, _ := newTestService(t)
	cbc := seedTest(catalog, "CBC", 300, 50, true)
	patient := seedPatient(patients)
	ctx := context.Background()

	b, err := svc.CreateBooking(ctx, walkInRequest(patient.ID, cbc.ID))
	if err != nil {
		t.Fatalf("CreateBooking: %v", err)
	}
	if _, err := svc.Transition(ctx, b.ID, StatusCancelled, labTech(), ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.PaymentInfo(ctx, b.ID); !errors.Is(err, apperr.ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
}
