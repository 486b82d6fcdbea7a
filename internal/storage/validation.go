// Package storage provides the data persistence layer for finz.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/finz/internal/common"
	"github.com/Veraticus/finz/internal/model"
)

// Validation errors.
var (
	ErrNilContext   = errors.New("context cannot be nil")
	ErrEmptyString  = errors.New("string parameter cannot be empty")
	ErrNilParameter = errors.New("parameter cannot be nil")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %w: %s", common.ErrValidation, ErrEmptyString, paramName)
	}
	return nil
}

// validateMovement checks the persisted invariants of a movement. Business
// validation (frequency names, positive amounts) happens in the accrual
// package before anything reaches the store; this is the last line.
func validateMovement(m *model.Movement) error {
	if m == nil {
		return fmt.Errorf("%w: movement", ErrNilParameter)
	}
	switch {
	case m.ID == "":
		return common.Validationf("movement missing ID")
	case m.OwnerID == "":
		return common.Validationf("movement missing owner")
	case !m.Amount.IsPositive():
		return common.Validationf("movement amount must be positive")
	case m.InstallmentCount < 1:
		return common.Validationf("installment count must be at least 1")
	case m.InstallmentsProcessed < 0 || m.InstallmentsProcessed > m.InstallmentCount:
		return common.Validationf("installments processed out of range")
	case m.PendingConfirmation && m.FullyProcessed():
		return common.Validationf("fully processed movement cannot be pending")
	case !m.Frequency.Valid():
		return common.Validationf("unknown frequency %q", m.Frequency)
	case m.Direction != model.DirectionIncome && m.Direction != model.DirectionExpense:
		return common.Validationf("unknown direction %q", m.Direction)
	case m.StartDate.IsZero():
		return common.Validationf("movement missing start date")
	}
	return nil
}

func validateGoal(g *model.Goal) error {
	if g == nil {
		return fmt.Errorf("%w: goal", ErrNilParameter)
	}
	switch {
	case g.ID == "":
		return common.Validationf("goal missing ID")
	case g.OwnerID == "":
		return common.Validationf("goal missing owner")
	case strings.TrimSpace(g.Name) == "":
		return common.Validationf("goal missing name")
	case !g.TargetAmount.IsPositive():
		return common.Validationf("goal target must be positive")
	}
	return nil
}
