// Package domain contains persistence models for tuition invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/studiva/campusbill/internal/accrual"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusPending  InvoiceStatus = "PENDING"
	InvoiceStatusOverdue  InvoiceStatus = "OVERDUE"
	InvoiceStatusPaid     InvoiceStatus = "PAID"
	InvoiceStatusCanceled InvoiceStatus = "CANCELED"
)

// Terminal reports whether no further transition may leave the status,
// other than the refund-driven revert.
func (s InvoiceStatus) Terminal() bool {
	return s == InvoiceStatusPaid || s == InvoiceStatusCanceled
}

// Invoice represents a tuition charge against a student.
type Invoice struct {
	ID                snowflake.ID    `gorm:"primaryKey" json:"id"`
	StudentID         snowflake.ID    `gorm:"not null;index" json:"student_id"`
	TermID            *snowflake.ID   `gorm:"index" json:"term_id,omitempty"`
	ReferenceSeq      int64           `gorm:"column:reference_seq;not null;uniqueIndex" json:"-"`
	ReferenceCode     string          `gorm:"column:reference_code;not null;uniqueIndex" json:"reference_code"`
	Description       string          `gorm:"type:text" json:"description"`
	DueDate           time.Time       `gorm:"column:due_date;not null;index" json:"due_date"`
	Amount            decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	FineRate          decimal.Decimal `gorm:"column:fine_rate;type:numeric(5,2);not null" json:"fine_rate"`
	InterestRate      decimal.Decimal `gorm:"column:interest_rate;type:numeric(5,2);not null" json:"interest_rate"`
	Status            InvoiceStatus   `gorm:"type:text;not null;default:'PENDING';index" json:"status"`
	InstallmentNumber *int            `gorm:"column:installment_number" json:"installment_number,omitempty"`
	InstallmentTotal  *int            `gorm:"column:installment_total" json:"installment_total,omitempty"`
	PaidAt            *time.Time      `json:"paid_at,omitempty"`
	CanceledAt        *time.Time      `json:"canceled_at,omitempty"`
	CreatedAt         time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// AmountDue returns what the invoice owes at asOf. Settled invoices and
// canceled invoices owe nothing. Never stored; recomputed on every read.
func (i Invoice) AmountDue(asOf time.Time) decimal.Decimal {
	if i.Status.Terminal() {
		return decimal.Zero.Round(2)
	}
	return accrual.AmountDue(i.Amount, i.DueDate, i.FineRate, i.InterestRate, asOf)
}

// EffectiveStatus normalizes PENDING past the due date to OVERDUE for
// presentation. The stored status is persisted by the overdue sweep.
func (i Invoice) EffectiveStatus(asOf time.Time) InvoiceStatus {
	if i.Status == InvoiceStatusPending && asOf.After(i.DueDate) {
		return InvoiceStatusOverdue
	}
	return i.Status
}

// Open reports whether the invoice still accepts payments and transitions.
func (i Invoice) Open() bool {
	return i.Status == InvoiceStatusPending || i.Status == InvoiceStatusOverdue
}
