// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/storefront-sync/internal/model"
)

var (
	// ErrInvalidAmount возвращается для неположительной суммы или суммы с дробными копейками.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidPromoCode возвращается для кода, не подходящего под формат промокода.
	ErrInvalidPromoCode = errors.New("invalid promo code")
	// ErrInvalidPromotion возвращается для некорректного описания промокода.
	ErrInvalidPromotion = errors.New("invalid promotion")
)

var promoCodeRe = regexp.MustCompile(`^[A-Z0-9_-]{3,20}$`)

// IsValidPromoCode проверяет формат промокода: 3–20 символов A-Z, 0-9, _ и -.
func IsValidPromoCode(code string) bool {
	return promoCodeRe.MatchString(code)
}

// Amount проверяет сумму пополнения или платежа.
func Amount(v decimal.Decimal) error {
	if !v.IsPositive() {
		return fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	if !v.Equal(v.Truncate(2)) {
		return fmt.Errorf("%w: at most two decimal places", ErrInvalidAmount)
	}
	return nil
}

type promotionPayload struct {
	Code       string `validate:"required,promocode"`
	Kind       string `validate:"required,oneof=PERCENT FIXED"`
	Value      decimal.Decimal
	UsageLimit *int `validate:"omitempty,min=1"`
	UsedCount  int  `validate:"min=0"`
	Start      model.Date
	End        model.Date
	MinTotal   *decimal.Decimal
	Notes      string `validate:"max=500"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func newValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	err := v.RegisterValidation("promocode", func(fl validator.FieldLevel) bool {
		return IsValidPromoCode(fl.Field().String())
	})
	if err != nil {
		return nil, fmt.Errorf("register promocode rule: %w", err)
	}
	v.RegisterStructValidation(promotionRules, promotionPayload{})
	return v, nil
}

// instance паникует, если валидатор не собрался: без правила promocode проверка кодов молча пропускалась бы.
func instance() *validator.Validate {
	validateOnce.Do(func() {
		v, err := newValidator()
		if err != nil {
			panic(err)
		}
		validate = v
	})
	return validate
}

func promotionRules(sl validator.StructLevel) {
	p := sl.Current().Interface().(promotionPayload)

	if p.Value.LessThan(decimal.NewFromInt(1)) {
		sl.ReportError(p.Value, "Value", "value", "min1", "")
	}
	if p.Kind == string(model.DiscountPercent) && p.Value.GreaterThan(decimal.NewFromInt(100)) {
		sl.ReportError(p.Value, "Value", "value", "percentmax", "")
	}
	if p.MinTotal != nil && p.MinTotal.IsNegative() {
		sl.ReportError(p.MinTotal, "MinTotal", "min_subtotal", "nonnegative", "")
	}
	for field, d := range map[string]model.Date{"Start": p.Start, "End": p.End} {
		if _, err := model.ParseDate(string(d)); err != nil {
			sl.ReportError(d, field, strings.ToLower(field), "date", "")
		}
	}
	if !p.Start.IsZero() && !p.End.IsZero() && p.End.Before(p.Start) {
		sl.ReportError(p.End, "End", "end", "window", "")
	}
}

var ruleMessages = map[string]string{
	"required":    "is required",
	"promocode":   "must be 3-20 characters of A-Z, 0-9, _ or -",
	"oneof":       "must be PERCENT or FIXED",
	"min":         "is too small",
	"max":         "is too long",
	"min1":        "must be at least 1",
	"percentmax":  "must not exceed 100 for percent discounts",
	"nonnegative": "must not be negative",
	"date":        "must be a YYYY-MM-DD date",
	"window":      "must not be before the start date",
}

// Promotion проверяет описание промокода перед отправкой на сервер.
func Promotion(p model.Promotion) error {
	payload := promotionPayload{
		Code:       p.Code,
		Kind:       string(p.DiscountKind),
		Value:      p.DiscountValue,
		UsageLimit: p.UsageLimit,
		UsedCount:  p.UsedCount,
		Start:      p.WindowStart,
		End:        p.WindowEnd,
		MinTotal:   p.MinSubtotal,
		Notes:      p.Notes,
	}

	err := instance().Struct(payload)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidPromotion, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg, ok := ruleMessages[fe.Tag()]
		if !ok {
			msg = "is invalid"
		}
		msgs = append(msgs, strings.ToLower(fe.Field())+" "+msg)
	}
	return fmt.Errorf("%w: %s", ErrInvalidPromotion, strings.Join(msgs, "; "))
}
