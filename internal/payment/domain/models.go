// Package domain contains persistence models for payments.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// PaymentStatus represents payment lifecycle states.
type PaymentStatus string

const (
	PaymentStatusAuthorized PaymentStatus = "AUTHORIZED"
	PaymentStatusSettled    PaymentStatus = "SETTLED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusRefunded   PaymentStatus = "REFUNDED"
)

// Payment represents money received against an invoice.
type Payment struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	InvoiceID   snowflake.ID    `gorm:"not null;index" json:"invoice_id"`
	ReceiptCode string          `gorm:"column:receipt_code;not null;uniqueIndex" json:"receipt_code"`
	Amount      decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Method      string          `gorm:"type:text;not null" json:"method"`
	Provider    *string         `gorm:"column:provider" json:"provider,omitempty"`
	ProviderRef *string         `gorm:"column:provider_ref" json:"provider_ref,omitempty"`
	Status      PaymentStatus   `gorm:"type:text;not null;default:'AUTHORIZED';index" json:"status"`
	SettledAt   *time.Time      `json:"settled_at,omitempty"`
	CreatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }
