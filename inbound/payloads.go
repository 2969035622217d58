package inbound

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goliatone/go-webhooks/core"
	"github.com/shopspring/decimal"
)

const (
	PlanInfinity = "INFINITY"
	PlanPro      = "PRO"
	PlanStart    = "START"
)

var (
	tierInfinityFloor = decimal.NewFromInt(400)
	tierProFloor      = decimal.NewFromInt(150)
)

var payloadValidator = newPayloadValidator()

func newPayloadValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type PaymentPaidData struct {
	OrderID     string `json:"orderId" validate:"required"`
	ProviderRef string `json:"providerRef"`
}

type PromptGeneratedData struct {
	PromptID   string   `json:"promptId" validate:"required"`
	ResultText string   `json:"resultText"`
	Tags       []string `json:"tags,omitempty"`
}

type VideoReadyData struct {
	VideoID string         `json:"videoId" validate:"required"`
	Assets  map[string]any `json:"assets,omitempty"`
}

type VideoFailedData struct {
	VideoID string `json:"videoId" validate:"required"`
	Error   string `json:"error,omitempty"`
}

type VideoProgressData struct {
	VideoID string         `json:"videoId" validate:"required"`
	Status  string         `json:"status,omitempty"`
	Assets  map[string]any `json:"assets,omitempty"`
}

type RefundData struct {
	OrderID string `json:"orderId"`
	UserID  string `json:"userId" validate:"required"`
	Credits int    `json:"credits" validate:"gt=0"`
	Reason  string `json:"reason,omitempty"`
}

// FlatPayment is the n8n payment notification sent without an event envelope.
type FlatPayment struct {
	TransactionID string           `json:"transactionId" validate:"required"`
	Name          string           `json:"name" validate:"required"`
	Email         string           `json:"email" validate:"required,email"`
	Amount        *decimal.Decimal `json:"amount"`
	Status        string           `json:"status" validate:"required"`
	CPF           string           `json:"cpf,omitempty"`
	Phone         string           `json:"phone,omitempty"`
	Plan          string           `json:"plan,omitempty"`
	Credits       *int             `json:"credits,omitempty" validate:"omitempty,gte=0"`
	Secret        string           `json:"WEBHOOK_SECRET,omitempty"`
}

// Approved reports whether the payment status settles the purchase.
func (p FlatPayment) Approved() bool {
	switch strings.ToLower(strings.TrimSpace(p.Status)) {
	case "paid", "approved":
		return true
	default:
		return false
	}
}

// ResolvePlan returns the plan code and credits for the payment. A positive
// explicit credits value overrides the tier.
func (p FlatPayment) ResolvePlan() Plan {
	amount := decimal.Zero
	if p.Amount != nil {
		amount = *p.Amount
	}
	plan := PlanForAmount(amount)
	if p.Credits != nil && *p.Credits > 0 {
		plan.Credits = *p.Credits
	}
	return plan
}

const (
	PromptCallbackSuccess = "success"
	PromptCallbackFailed  = "failed"
)

type PromptCallback struct {
	PromptID string `json:"promptId" validate:"required"`
	Result   string `json:"result" validate:"required_unless=Status failed"`
	Status   string `json:"status,omitempty" validate:"omitempty,oneof=success failed"`
	Secret   string `json:"WEBHOOK_SECRET,omitempty"`
}

type Plan struct {
	Code    string `json:"planCode"`
	Credits int    `json:"credits"`
}

// PlanForAmount maps a purchase amount to its plan tier.
func PlanForAmount(amount decimal.Decimal) Plan {
	switch {
	case amount.GreaterThanOrEqual(tierInfinityFloor):
		return Plan{Code: PlanInfinity, Credits: 100}
	case amount.GreaterThanOrEqual(tierProFloor):
		return Plan{Code: PlanPro, Credits: 30}
	default:
		return Plan{Code: PlanStart, Credits: 15}
	}
}

func decodeFlatPayment(body []byte) (FlatPayment, error) {
	var payment FlatPayment
	if err := decodeAndValidate(body, &payment); err != nil {
		return FlatPayment{}, err
	}
	if payment.Amount == nil {
		return FlatPayment{}, core.ValidationError("amount", "amount is required")
	}
	if payment.Amount.IsNegative() {
		return FlatPayment{}, core.ValidationError("amount", "amount must not be negative")
	}
	return payment, nil
}

// DecodeData unmarshals and validates an event's data object.
func DecodeData[T any](event Event) (T, error) {
	var out T
	if len(event.Data) == 0 || string(event.Data) == "null" {
		return out, core.ValidationError("data", "data is required")
	}
	if err := decodeAndValidate(event.Data, &out); err != nil {
		return out, err
	}
	return out, nil
}

func decodeAndValidate(raw []byte, target any) error {
	if err := json.Unmarshal(raw, target); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return core.ValidationError(typeErr.Field, fmt.Sprintf("must be %s", typeErr.Type.String()))
		}
		return core.ValidationError("body", "body must be a JSON object")
	}
	return validatePayload(target)
}

func validatePayload(target any) error {
	err := payloadValidator.Struct(target)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		first := fieldErrs[0]
		return core.ValidationError(first.Field(), fmt.Sprintf("failed %q validation", first.Tag()))
	}
	return core.ValidationError("body", err.Error())
}
