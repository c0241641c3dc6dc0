package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitwise74/school-api/internal/model"
	"bitwise74/school-api/pkg/apperr"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FeeLedger owns every mutation of student fee payments
type FeeLedger struct {
	db        *gorm.DB
	processor PaymentProcessor
	timeout   time.Duration
	now       func() time.Time
}

func NewFeeLedger(db *gorm.DB, p PaymentProcessor, timeout time.Duration) *FeeLedger {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &FeeLedger{db: db, processor: p, timeout: timeout, now: time.Now}
}

type PayRequest struct {
	FeeID          string
	Amount         int64
	Method         string
	Details        map[string]any
	PaidBy         string
	IdempotencyKey string
}

type PayResult struct {
	Fee     *model.StudentFee `json:"fee"`
	Payment *model.FeePayment `json:"payment"`
	// Set when the result comes from an earlier request with the same key
	Replayed bool `json:"-"`
}

// Fee loads a fee without locking it, for access checks ahead of Pay
func (l *FeeLedger) Fee(ctx context.Context, id string) (*model.StudentFee, error) {
	var fee model.StudentFee
	if err := l.db.WithContext(ctx).First(&fee, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Fee record not found")
		}

		return nil, apperr.Internal(err)
	}

	return &fee, nil
}

func (l *FeeLedger) replay(db *gorm.DB, r PayRequest) (*PayResult, error) {
	var p model.FeePayment
	err := db.
		Preload("StudentFee").
		Where("idempotency_key = ?", r.IdempotencyKey).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		return nil, apperr.Internal(err)
	}

	if p.StudentFeeID != r.FeeID {
		return nil, apperr.BadRequest("Idempotency key was already used for another fee")
	}

	fee := p.StudentFee
	p.StudentFee = nil
	fee.Resolve(l.now())

	return &PayResult{Fee: fee, Payment: &p, Replayed: true}, nil
}

func rejectPayment(fee *model.StudentFee, err error) error {
	outstanding := max(fee.Amount-fee.PaidAmount, 0)

	switch {
	case errors.Is(err, model.ErrOverpayment):
		return apperr.BadRequest("Payment exceeds outstanding balance").
			WithDetails(map[string]any{"outstanding": outstanding})
	case errors.Is(err, model.ErrFeeSettled):
		return apperr.BadRequest("Fee is already paid")
	case errors.Is(err, model.ErrInvalidAmount):
		return apperr.BadRequest("Payment amount must be positive")
	default:
		return apperr.Internal(err)
	}
}

// Pay charges the processor and records the payment. The fee row is locked
// for the whole operation and the charge happens inside the transaction, so
// a failed or timed out charge leaves the fee untouched and a successful one
// is committed before the caller hears about it.
//
// Only the charge observes cancellation of ctx. Once the processor has
// confirmed a charge the transaction always runs to commit.
func (l *FeeLedger) Pay(ctx context.Context, r PayRequest) (*PayResult, error) {
	if r.IdempotencyKey != "" {
		res, err := l.replay(l.db.WithContext(ctx), r)
		if err != nil || res != nil {
			return res, err
		}
	}

	var (
		result *PayResult
		charge *PaymentResult
	)

	err := l.db.WithContext(context.WithoutCancel(ctx)).Transaction(func(tx *gorm.DB) error {
		var fee model.StudentFee
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&fee, "id = ?", r.FeeID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("Fee record not found")
			}

			return err
		}

		// a retry holding the same key waits for the lock above and then
		// finds the payment the first request committed
		if r.IdempotencyKey != "" {
			res, err := l.replay(tx, r)
			if err != nil {
				return err
			}
			if res != nil {
				result = res
				return nil
			}
		}

		if err := fee.CheckPayment(r.Amount); err != nil {
			return rejectPayment(&fee, err)
		}

		pctx, cancel := context.WithTimeout(ctx, l.timeout)
		c, err := l.processor.ProcessPayment(pctx, PaymentRequest{
			Amount:         r.Amount,
			Method:         r.Method,
			FeeID:          fee.ID,
			StudentID:      fee.StudentID,
			Details:        r.Details,
			IdempotencyKey: r.IdempotencyKey,
		})
		cancel()
		if err != nil {
			paymentsTotal.WithLabelValues("failed").Inc()

			switch {
			case errors.Is(err, ErrPaymentDeclined):
				return apperr.BadRequest("Payment was declined").Wrap(err)
			case errors.Is(err, context.DeadlineExceeded):
				return apperr.Internal(fmt.Errorf("payment processor timed out after %s, %w", l.timeout, err))
			default:
				return apperr.Internal(fmt.Errorf("payment processing failed, %w", err))
			}
		}
		charge = c

		now := l.now()
		version := fee.Version

		if err := fee.ApplyPayment(r.Amount, r.Method, charge.TransactionID, now); err != nil {
			return err
		}
		fee.Version++

		res := tx.Model(&model.StudentFee{}).
			Where("id = ? AND version = ?", fee.ID, version).
			Updates(map[string]any{
				"paid_amount":           fee.PaidAmount,
				"status":                fee.Status,
				"paid_at":               fee.PaidAt,
				"payment_method":        fee.PaymentMethod,
				"transaction_reference": fee.TransactionReference,
				"version":               fee.Version,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.New("fee was modified by a concurrent payment")
		}

		details, err := json.Marshal(r.Details)
		if err != nil {
			return fmt.Errorf("failed to encode payment details, %w", err)
		}

		payment := &model.FeePayment{
			StudentFeeID:  fee.ID,
			StudentID:     fee.StudentID,
			PaidBy:        r.PaidBy,
			Amount:        r.Amount,
			Method:        r.Method,
			TransactionID: charge.TransactionID,
			Details:       string(details),
			PaidAt:        now,
		}
		if r.IdempotencyKey != "" {
			payment.IdempotencyKey = &r.IdempotencyKey
		}

		if err := tx.Create(payment).Error; err != nil {
			return err
		}

		result = &PayResult{Fee: &fee, Payment: payment}
		return nil
	})
	if err != nil {
		fields := []zap.Field{
			zap.String("fee_id", r.FeeID),
			zap.Int64("amount", r.Amount),
			zap.String("idempotency_key", r.IdempotencyKey),
			zap.Error(err),
		}

		switch {
		case charge != nil:
			// the processor took the money, this needs manual reconciliation
			zap.L().Error("Confirmed charge was not recorded",
				append(fields, zap.String("transaction_id", charge.TransactionID))...)
		case !apperr.IsKind(err, apperr.KindBadRequest) && !apperr.IsKind(err, apperr.KindNotFound):
			zap.L().Error("Fee payment was not recorded", fields...)
		}

		return nil, err
	}

	if result.Replayed {
		return result, nil
	}

	paymentsTotal.WithLabelValues("succeeded").Inc()
	result.Fee.Resolve(l.now())

	return result, nil
}

// Receipt returns a payment with the fee it settled
func (l *FeeLedger) Receipt(ctx context.Context, paymentID string) (*model.FeePayment, error) {
	var p model.FeePayment
	err := l.db.WithContext(ctx).
		Preload("StudentFee.FeeStructure").
		First(&p, "id = ?", paymentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("Payment not found")
		}

		return nil, apperr.Internal(err)
	}

	if p.StudentFee != nil {
		p.StudentFee.Resolve(l.now())
	}

	return &p, nil
}
