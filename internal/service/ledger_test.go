package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/internal/testutil"
	"bitwise74/school-api/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) ProcessPayment(ctx context.Context, r PaymentRequest) (*PaymentResult, error) {
	args := m.Called(ctx, r)

	res, _ := args.Get(0).(*PaymentResult)
	return res, args.Error(1)
}

func approve(txn string) *PaymentResult {
	return &PaymentResult{TransactionID: txn, Status: "succeeded", ProcessedAt: time.Now()}
}

type ledgerFixture struct {
	db     *gorm.DB
	ledger *FeeLedger
	proc   *mockProcessor
	parent *model.User
	fee    *model.StudentFee
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()

	db := testutil.NewDB(t)
	proc := &mockProcessor{}

	parent := testutil.CreateUser(t, db, "parent@school.test", model.RoleParent)
	student := testutil.CreateStudent(t, db, "ADM-1", "5", "A", parent, nil)

	structure := &model.FeeStructure{Name: "Tuition", Amount: 1000, Frequency: model.FrequencyMonthly, ApplicableFrom: "2025-01-01"}
	require.NoError(t, db.Create(structure).Error)

	fee := &model.StudentFee{
		StudentID:      student.ID,
		FeeStructureID: structure.ID,
		Amount:         1000,
		DueDate:        "2099-01-31",
		Status:         model.FeePending,
		Version:        1,
	}
	require.NoError(t, db.Create(fee).Error)

	return &ledgerFixture{
		db:     db,
		ledger: NewFeeLedger(db, proc, time.Second),
		proc:   proc,
		parent: parent,
		fee:    fee,
	}
}

func (f *ledgerFixture) reload(t *testing.T) model.StudentFee {
	t.Helper()

	var fee model.StudentFee
	require.NoError(t, f.db.First(&fee, "id = ?", f.fee.ID).Error)
	return fee
}

func (f *ledgerFixture) payments(t *testing.T) int64 {
	t.Helper()

	var n int64
	require.NoError(t, f.db.Model(&model.FeePayment{}).Where("student_fee_id = ?", f.fee.ID).Count(&n).Error)
	return n
}

func TestPartialThenFullPayment(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	f.proc.On("ProcessPayment", mock.Anything, mock.MatchedBy(func(r PaymentRequest) bool { return r.Amount == 400 })).
		Return(approve("txn_1"), nil).Once()
	f.proc.On("ProcessPayment", mock.Anything, mock.MatchedBy(func(r PaymentRequest) bool { return r.Amount == 600 })).
		Return(approve("txn_2"), nil).Once()

	res, err := f.ledger.Pay(ctx, PayRequest{FeeID: f.fee.ID, Amount: 400, Method: "card", PaidBy: f.parent.ID})
	require.NoError(t, err)
	assert.Equal(t, model.FeePartial, res.Fee.Status)
	assert.EqualValues(t, 400, res.Fee.PaidAmount)
	assert.EqualValues(t, 600, res.Fee.Outstanding)
	assert.Nil(t, res.Fee.PaidAt)
	assert.Equal(t, "txn_1", res.Payment.TransactionID)

	res, err = f.ledger.Pay(ctx, PayRequest{FeeID: f.fee.ID, Amount: 600, Method: "bank_transfer", PaidBy: f.parent.ID})
	require.NoError(t, err)
	assert.Equal(t, model.FeePaid, res.Fee.Status)

	stored := f.reload(t)
	assert.Equal(t, model.FeePaid, stored.Status)
	assert.EqualValues(t, 1000, stored.PaidAmount)
	assert.NotNil(t, stored.PaidAt)
	assert.Equal(t, "bank_transfer", stored.PaymentMethod)
	assert.Equal(t, "txn_2", stored.TransactionReference)
	assert.Equal(t, 3, stored.Version)
	assert.EqualValues(t, 2, f.payments(t))

	f.proc.AssertExpectations(t)
}

func TestFailedChargeLeavesFeeUnchanged(t *testing.T) {
	f := newLedgerFixture(t)

	f.proc.On("ProcessPayment", mock.Anything, mock.Anything).Return(nil, errors.New("gateway exploded")).Once()

	_, err := f.ledger.Pay(context.Background(), PayRequest{FeeID: f.fee.ID, Amount: 400, Method: "card", PaidBy: f.parent.ID})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindInternal))

	stored := f.reload(t)
	assert.Equal(t, model.FeePending, stored.Status)
	assert.EqualValues(t, 0, stored.PaidAmount)
	assert.Empty(t, stored.TransactionReference)
	assert.EqualValues(t, 0, f.payments(t))
}

func TestDeclinedCharge(t *testing.T) {
	f := newLedgerFixture(t)

	f.proc.On("ProcessPayment", mock.Anything, mock.Anything).Return(nil, ErrPaymentDeclined).Once()

	_, err := f.ledger.Pay(context.Background(), PayRequest{FeeID: f.fee.ID, Amount: 400, Method: "card", PaidBy: f.parent.ID})
	assert.True(t, apperr.IsKind(err, apperr.KindBadRequest))
	assert.Equal(t, model.FeePending, f.reload(t).Status)
}

func TestChargeTimeoutIsAFailure(t *testing.T) {
	f := newLedgerFixture(t)
	f.ledger.timeout = 20 * time.Millisecond

	f.proc.On("ProcessPayment", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded).Once()

	_, err := f.ledger.Pay(context.Background(), PayRequest{FeeID: f.fee.ID, Amount: 400, Method: "card", PaidBy: f.parent.ID})
	assert.True(t, apperr.IsKind(err, apperr.KindInternal))

	stored := f.reload(t)
	assert.Equal(t, model.FeePending, stored.Status)
	assert.EqualValues(t, 0, stored.PaidAmount)
}

func TestOverpaymentIsRejectedBeforeCharging(t *testing.T) {
	f := newLedgerFixture(t)

	_, err := f.ledger.Pay(context.Background(), PayRequest{FeeID: f.fee.ID, Amount: 1500, Method: "card", PaidBy: f.parent.ID})
	require.Error(t, err)

	var e *apperr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, apperr.KindBadRequest, e.Kind)
	assert.EqualValues(t, 1000, e.Details["outstanding"])

	f.proc.AssertNotCalled(t, "ProcessPayment", mock.Anything, mock.Anything)
}

func TestPayingSettledFee(t *testing.T) {
	f := newLedgerFixture(t)
	require.NoError(t, f.db.Model(f.fee).Updates(map[string]any{"paid_amount": 1000, "status": model.FeePaid}).Error)

	_, err := f.ledger.Pay(context.Background(), PayRequest{FeeID: f.fee.ID, Amount: 1, Method: "card", PaidBy: f.parent.ID})
	assert.True(t, apperr.IsKind(err, apperr.KindBadRequest))
	f.proc.AssertNotCalled(t, "ProcessPayment", mock.Anything, mock.Anything)
}

func TestUnknownFee(t *testing.T) {
	f := newLedgerFixture(t)

	_, err := f.ledger.Pay(context.Background(), PayRequest{FeeID: "missing", Amount: 1, Method: "card"})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestIdempotentRetry(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	f.proc.On("ProcessPayment", mock.Anything, mock.MatchedBy(func(r PaymentRequest) bool { return r.IdempotencyKey == "key-1" })).
		Return(approve("txn_once"), nil).Once()

	req := PayRequest{FeeID: f.fee.ID, Amount: 300, Method: "card", PaidBy: f.parent.ID, IdempotencyKey: "key-1"}

	first, err := f.ledger.Pay(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.ledger.Pay(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	assert.EqualValues(t, 300, second.Fee.PaidAmount)

	assert.EqualValues(t, 300, f.reload(t).PaidAmount)
	assert.EqualValues(t, 1, f.payments(t))
	f.proc.AssertNumberOfCalls(t, "ProcessPayment", 1)
}

func payConcurrently(f *ledgerFixture, reqs ...PayRequest) ([]*PayResult, []error) {
	results := make([]*PayResult, len(reqs))
	errs := make([]error, len(reqs))

	var wg sync.WaitGroup
	for i, r := range reqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.ledger.Pay(context.Background(), r)
		}()
	}
	wg.Wait()

	return results, errs
}

func TestConcurrentPaymentsAreSerialised(t *testing.T) {
	f := newLedgerFixture(t)

	f.proc.On("ProcessPayment", mock.Anything, mock.Anything).Return(approve("txn_a"), nil).Once()
	f.proc.On("ProcessPayment", mock.Anything, mock.Anything).Return(approve("txn_b"), nil).Once()

	// only one of these fits in the balance of 1000
	req := PayRequest{FeeID: f.fee.ID, Amount: 600, Method: "card", PaidBy: f.parent.ID}
	_, errs := payConcurrently(f, req, req)

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.IsKind(err, apperr.KindBadRequest):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)

	stored := f.reload(t)
	assert.EqualValues(t, 600, stored.PaidAmount)
	assert.Equal(t, 2, stored.Version)
	assert.EqualValues(t, 1, f.payments(t))
	f.proc.AssertNumberOfCalls(t, "ProcessPayment", 1)
}

func TestConcurrentPaymentsBothRecorded(t *testing.T) {
	f := newLedgerFixture(t)

	f.proc.On("ProcessPayment", mock.Anything, mock.Anything).Return(approve("txn_a"), nil).Once()
	f.proc.On("ProcessPayment", mock.Anything, mock.Anything).Return(approve("txn_b"), nil).Once()

	req := PayRequest{FeeID: f.fee.ID, Amount: 400, Method: "card", PaidBy: f.parent.ID}
	_, errs := payConcurrently(f, req, req)
	for _, err := range errs {
		require.NoError(t, err)
	}

	// every confirmed charge ends up in the ledger
	stored := f.reload(t)
	assert.EqualValues(t, 800, stored.PaidAmount)
	assert.Equal(t, 3, stored.Version)
	assert.EqualValues(t, 2, f.payments(t))
	f.proc.AssertNumberOfCalls(t, "ProcessPayment", 2)
}

func TestConcurrentRetriesWithOneKeyChargeOnce(t *testing.T) {
	f := newLedgerFixture(t)

	f.proc.On("ProcessPayment", mock.Anything, mock.Anything).Return(approve("txn_once"), nil).Once()

	req := PayRequest{FeeID: f.fee.ID, Amount: 300, Method: "card", PaidBy: f.parent.ID, IdempotencyKey: "key-2"}
	results, errs := payConcurrently(f, req, req)

	var replayed int
	for i, err := range errs {
		require.NoError(t, err)
		if results[i].Replayed {
			replayed++
		}
	}
	assert.Equal(t, 1, replayed)
	assert.Equal(t, results[0].Payment.ID, results[1].Payment.ID)

	assert.EqualValues(t, 300, f.reload(t).PaidAmount)
	assert.EqualValues(t, 1, f.payments(t))
	f.proc.AssertNumberOfCalls(t, "ProcessPayment", 1)
}

func TestCancelledRequestAfterChargeStillCommits(t *testing.T) {
	f := newLedgerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// the client goes away right after the processor confirms
	f.proc.On("ProcessPayment", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(approve("txn_gone"), nil).Once()

	res, err := f.ledger.Pay(ctx, PayRequest{FeeID: f.fee.ID, Amount: 400, Method: "card", PaidBy: f.parent.ID})
	require.NoError(t, err)
	assert.Equal(t, "txn_gone", res.Payment.TransactionID)

	stored := f.reload(t)
	assert.EqualValues(t, 400, stored.PaidAmount)
	assert.Equal(t, "txn_gone", stored.TransactionReference)
	assert.EqualValues(t, 1, f.payments(t))
}

func TestStudentFeesOverdueFilter(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	past := &model.StudentFee{
		StudentID:      f.fee.StudentID,
		FeeStructureID: f.fee.FeeStructureID,
		Amount:         500,
		DueDate:        "2000-01-01",
		Status:         model.FeePending,
		Version:        1,
	}
	require.NoError(t, f.db.Create(past).Error)

	all, total, err := f.ledger.StudentFees(ctx, f.fee.StudentID, FeeFilter{Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Equal(t, model.FeeOverdue, all[0].Status)
	assert.Equal(t, model.FeePending, all[1].Status)

	overdue, total, err := f.ledger.StudentFees(ctx, f.fee.StudentID, FeeFilter{Status: model.FeeOverdue, Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, past.ID, overdue[0].ID)

	pending, total, err := f.ledger.StudentFees(ctx, f.fee.StudentID, FeeFilter{Status: model.FeePending, Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, f.fee.ID, pending[0].ID)
}

func TestAssignSkipsExistingObligations(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	other := testutil.CreateStudent(t, f.db, "ADM-2", "5", "A", nil, nil)
	testutil.CreateStudent(t, f.db, "ADM-3", "6", "B", nil, nil)

	res, err := f.ledger.Assign(ctx, AssignRequest{StructureID: f.fee.FeeStructureID, DueDate: f.fee.DueDate, Grade: "5", Section: "A"})
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	assert.Equal(t, other.ID, res.Created[0].StudentID)
	assert.EqualValues(t, 1000, res.Created[0].Amount)
	assert.Equal(t, []string{f.fee.StudentID}, res.Skipped)

	_, err = f.ledger.Assign(ctx, AssignRequest{StructureID: f.fee.FeeStructureID, DueDate: f.fee.DueDate, StudentIDs: []string{"nope"}})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestAssignWithRepeatedStudentIDs(t *testing.T) {
	f := newLedgerFixture(t)
	other := testutil.CreateStudent(t, f.db, "ADM-2", "5", "A", nil, nil)

	res, err := f.ledger.Assign(context.Background(), AssignRequest{
		StructureID: f.fee.FeeStructureID,
		DueDate:     f.fee.DueDate,
		StudentIDs:  []string{other.ID, other.ID, f.fee.StudentID},
	})
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	assert.Equal(t, other.ID, res.Created[0].StudentID)
	assert.Equal(t, []string{f.fee.StudentID}, res.Skipped)
}
