package model

import (
	"errors"
	"time"
)

var (
	ErrInvalidAmount = errors.New("payment amount must be positive")
	ErrFeeSettled    = errors.New("fee is already paid")
	ErrOverpayment   = errors.New("payment exceeds outstanding balance")
)

type FeeFrequency string

const (
	FrequencyMonthly   FeeFrequency = "monthly"
	FrequencyQuarterly FeeFrequency = "quarterly"
	FrequencyAnnual    FeeFrequency = "annual"
	FrequencyOneTime   FeeFrequency = "one-time"
)

// FeeStructure is the template student fee obligations are created from.
// Amounts are in the smallest currency unit.
type FeeStructure struct {
	Meta
	Name           string       `gorm:"size:100;not null" json:"name"`
	Description    string       `json:"description,omitempty"`
	Amount         int64        `gorm:"not null" json:"amount"`
	Frequency      FeeFrequency `gorm:"size:16;not null" json:"frequency"`
	ApplicableFrom string       `gorm:"size:10;not null" json:"applicable_from"`
	ApplicableTo   *string      `gorm:"size:10" json:"applicable_to,omitempty"`
}

type FeeStatus string

const (
	FeePending FeeStatus = "pending"
	FeePartial FeeStatus = "partial"
	FeePaid    FeeStatus = "paid"
	// Never stored. Derived when reading a pending or partial fee past its due date.
	FeeOverdue FeeStatus = "overdue"
)

type StudentFee struct {
	Meta
	StudentID            string     `gorm:"size:32;not null;index" json:"student_id"`
	FeeStructureID       string     `gorm:"size:32;not null;index" json:"fee_structure_id"`
	Amount               int64      `gorm:"not null" json:"amount"`
	DueDate              string     `gorm:"size:10;not null;index" json:"due_date"`
	PaidAmount           int64      `gorm:"not null;default:0" json:"paid_amount"`
	PaidAt               *time.Time `json:"paid_at,omitempty"`
	Status               FeeStatus  `gorm:"size:16;not null;default:pending;index" json:"status"`
	PaymentMethod        string     `gorm:"size:32" json:"payment_method,omitempty"`
	TransactionReference string     `gorm:"size:128" json:"transaction_reference,omitempty"`
	Version              int        `gorm:"not null;default:1" json:"-"`

	Outstanding int64 `gorm:"-" json:"outstanding"`

	FeeStructure *FeeStructure `gorm:"foreignKey:FeeStructureID" json:"fee_structure,omitempty"`
	Student      *Student      `gorm:"foreignKey:StudentID;constraint:OnDelete:CASCADE" json:"student,omitempty"`
}

// EffectiveStatus is the status as seen at now, which turns unpaid fees past
// their due date into overdue ones
func (f *StudentFee) EffectiveStatus(now time.Time) FeeStatus {
	if f.Status != FeePending && f.Status != FeePartial {
		return f.Status
	}

	if f.DueDate != "" && f.DueDate < Today(now) {
		return FeeOverdue
	}

	return f.Status
}

// Resolve fills the derived fields for presentation. The result must not be
// saved back since the overdue status only exists at read time.
func (f *StudentFee) Resolve(now time.Time) {
	f.Status = f.EffectiveStatus(now)
	f.Outstanding = max(f.Amount-f.PaidAmount, 0)
}

// CheckPayment validates a payment of amount against the fee without changing it
func (f *StudentFee) CheckPayment(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	if f.Status == FeePaid {
		return ErrFeeSettled
	}

	if f.PaidAmount+amount > f.Amount {
		return ErrOverpayment
	}

	return nil
}

// ApplyPayment records a confirmed payment. The fee is paid once the paid
// amount reaches the total, otherwise it is partially paid.
func (f *StudentFee) ApplyPayment(amount int64, method, reference string, now time.Time) error {
	if err := f.CheckPayment(amount); err != nil {
		return err
	}

	f.PaidAmount += amount
	f.PaymentMethod = method
	f.TransactionReference = reference

	if f.PaidAmount >= f.Amount {
		f.Status = FeePaid
		f.PaidAt = &now
	} else {
		f.Status = FeePartial
	}

	return nil
}

// FeePayment is the ledger row written in the same transaction as the fee
// update it caused
type FeePayment struct {
	Meta
	StudentFeeID   string    `gorm:"size:32;not null;index" json:"student_fee_id"`
	StudentID      string    `gorm:"size:32;not null;index" json:"student_id"`
	PaidBy         string    `gorm:"size:32;not null" json:"paid_by"`
	Amount         int64     `gorm:"not null" json:"amount"`
	Method         string    `gorm:"size:32;not null" json:"payment_method"`
	TransactionID  string    `gorm:"size:128;not null;index" json:"transaction_id"`
	IdempotencyKey *string   `gorm:"size:128;uniqueIndex" json:"-"`
	Details        string    `json:"-"`
	PaidAt         time.Time `json:"paid_at"`

	StudentFee *StudentFee `gorm:"foreignKey:StudentFeeID;constraint:OnDelete:CASCADE" json:"fee,omitempty"`
}
