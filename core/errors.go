package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorCodeValidation    = "WEBHOOK_VALIDATION_ERROR"
	ErrorCodeSerialization = "WEBHOOK_SERIALIZATION_ERROR"
	ErrorCodeConfiguration = "WEBHOOK_CONFIGURATION_ERROR"
	ErrorCodeSignature     = "WEBHOOK_SIGNATURE_INVALID"
	ErrorCodeDelivery      = "WEBHOOK_DELIVERY_FAILED"
	ErrorCodeDeadLetter    = "WEBHOOK_DEAD_LETTER"
	ErrorCodeNotFound      = "WEBHOOK_NOT_FOUND"
	ErrorCodeLeaseLost     = "WEBHOOK_LEASE_LOST"
	ErrorCodeTransition    = "WEBHOOK_INVALID_TRANSITION"
	ErrorCodeInternal      = "WEBHOOK_INTERNAL_ERROR"
)

var (
	ErrDispatchNotFound = errors.New("core: dispatch not found")
	ErrLeaseLost        = errors.New("core: dispatch lease lost")
	ErrTickInProgress   = errors.New("core: tick already in progress")
)

func ValidationError(field string, message string) *goerrors.Error {
	return goerrors.NewValidation("core: validation failed", goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorCodeValidation).
		WithSeverity(goerrors.SeverityError)
}

func SerializationError(source error) *goerrors.Error {
	err := goerrors.Wrap(source, goerrors.CategoryValidation, "core: payload is not JSON serializable").
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorCodeSerialization)
	return err
}

func ConfigurationError(message string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorCodeConfiguration).
		WithSeverity(goerrors.SeverityCritical)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func SignatureError(message string, metadata map[string]any) *goerrors.Error {
	if strings.TrimSpace(message) == "" {
		message = "core: invalid webhook signature"
	}
	err := goerrors.New(message, goerrors.CategoryAuth).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorCodeSignature)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func DeliveryError(source error, statusCode int, metadata map[string]any) *goerrors.Error {
	var err *goerrors.Error
	if source == nil {
		err = goerrors.New("core: delivery failed", goerrors.CategoryExternal)
	} else {
		err = goerrors.Wrap(source, goerrors.CategoryExternal, "core: delivery failed")
	}
	err = err.WithCode(http.StatusBadGateway).WithTextCode(ErrorCodeDelivery)
	fields := cloneFields(metadata)
	if statusCode > 0 {
		fields["status_code"] = statusCode
	}
	if len(fields) > 0 {
		err.WithMetadata(fields)
	}
	return err
}

func DeadLetterError(record DispatchRecord, cause error) *goerrors.Error {
	var err *goerrors.Error
	if cause == nil {
		err = goerrors.New("core: dispatch dead-lettered", goerrors.CategoryOperation)
	} else {
		err = goerrors.Wrap(cause, goerrors.CategoryOperation, "core: dispatch dead-lettered")
	}
	return err.
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorCodeDeadLetter).
		WithSeverity(goerrors.SeverityError).
		WithMetadata(map[string]any{
			"dispatch_id": record.ID,
			"event_type":  record.EventType,
			"attempts":    record.Attempts,
		})
}

func NotFoundError(id string) *goerrors.Error {
	return goerrors.Wrap(ErrDispatchNotFound, goerrors.CategoryNotFound, "core: dispatch not found").
		WithCode(http.StatusNotFound).
		WithTextCode(ErrorCodeNotFound).
		WithMetadata(map[string]any{"dispatch_id": id})
}

func LeaseLostError(id string, owner string) *goerrors.Error {
	return goerrors.Wrap(ErrLeaseLost, goerrors.CategoryConflict, "core: dispatch lease lost").
		WithCode(http.StatusConflict).
		WithTextCode(ErrorCodeLeaseLost).
		WithMetadata(map[string]any{"dispatch_id": id, "owner": owner})
}

func IsValidationError(err error) bool {
	return hasCategory(err, goerrors.CategoryValidation, goerrors.CategoryBadInput)
}

func IsConfigurationError(err error) bool {
	return hasTextCode(err, ErrorCodeConfiguration)
}

func IsSignatureError(err error) bool {
	return hasTextCode(err, ErrorCodeSignature)
}

func IsDeliveryError(err error) bool {
	return hasTextCode(err, ErrorCodeDelivery)
}

func IsDeadLetterError(err error) bool {
	return hasTextCode(err, ErrorCodeDeadLetter)
}

func IsNotFound(err error) bool {
	if errors.Is(err, ErrDispatchNotFound) {
		return true
	}
	return hasTextCode(err, ErrorCodeNotFound)
}

func IsLeaseLost(err error) bool {
	if errors.Is(err, ErrLeaseLost) {
		return true
	}
	return hasTextCode(err, ErrorCodeLeaseLost)
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

func hasCategory(err error, categories ...goerrors.Category) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	for _, category := range categories {
		if richErr.Category == category {
			return true
		}
	}
	return false
}

// MapError converts any error into a go-errors envelope with an HTTP code and
// a webhook text code.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrDispatchNotFound):
		return NotFoundError("")
	case errors.Is(err, ErrLeaseLost):
		return ensureErrorEnvelope(goerrors.Wrap(err, goerrors.CategoryConflict, err.Error()).
			WithTextCode(ErrorCodeLeaseLost))
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not configured"), strings.Contains(msg, "secret is required"):
		return ConfigurationError(err.Error(), nil)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return ensureErrorEnvelope(goerrors.New(err.Error(), goerrors.CategoryBadInput).
			WithTextCode(ErrorCodeValidation))
	}

	return ensureErrorEnvelope(goerrors.MapToError(err, goerrors.DefaultErrorMappers()))
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatusForCategory(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorCodeValidation
	case goerrors.CategoryNotFound:
		return ErrorCodeNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorCodeSignature
	case goerrors.CategoryConflict:
		return ErrorCodeLeaseLost
	case goerrors.CategoryExternal:
		return ErrorCodeDelivery
	default:
		return ErrorCodeInternal
	}
}

func httpStatusForCategory(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
