package ml

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const expenseMonthLayout = "2006-01"

// ExpenseRecord is a single submitted spending entry.
type ExpenseRecord struct {
	Category string          `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
	Date     string          `json:"date"`
}

// Validate normalizes the category and checks the amount and the YYYY-MM date.
func (r *ExpenseRecord) Validate() error {
	r.Category = strings.TrimSpace(r.Category)
	if r.Category == "" {
		return newValidationError("category", "is required")
	}
	if !r.Amount.IsPositive() {
		return newValidationError("amount", "must be greater than zero")
	}
	if !r.Amount.Equal(r.Amount.Round(2)) {
		return newValidationError("amount", "must have at most two decimal places")
	}
	if _, err := time.Parse(expenseMonthLayout, r.Date); err != nil {
		return newValidationError("date", "must use the YYYY-MM format")
	}
	return nil
}

