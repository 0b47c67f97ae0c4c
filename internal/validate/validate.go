package validate

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type ErrField struct {
	Field string `json:"field"`
	Msg   string `json:"msg"`
}

type Errs []ErrField

func (e Errs) Error() string { // error interface
	var b strings.Builder
	for i, ef := range e {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(ef.Field + ": " + ef.Msg)
	}
	return b.String()
}

// Collect drops nil checks and returns the rest as one error, or nil.
func Collect(checks ...*ErrField) error {
	var errs Errs
	for _, c := range checks {
		if c != nil {
			errs = append(errs, *c)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Helpers
func Required(field, value string) *ErrField {
	if strings.TrimSpace(value) == "" {
		return &ErrField{Field: field, Msg: "required"}
	}
	return nil
}

// Amount parses value as a decimal. Range and precision are the engine's
// business; this only rejects text that is not a number.
func Amount(field, value string) (decimal.Decimal, *ErrField) {
	if strings.TrimSpace(value) == "" {
		return decimal.Zero, &ErrField{Field: field, Msg: "required"}
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, &ErrField{Field: field, Msg: "must be a number"}
	}
	return d, nil
}

func MinInt(field string, v, min int) *ErrField {
	if v < min {
		return &ErrField{Field: field, Msg: "must be >= " + strconv.Itoa(min)}
	}
	return nil
}
