package core

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestErrorTaxonomy_Predicates(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		check    func(error) bool
		category goerrors.Category
		code     int
	}{
		{name: "validation", err: ValidationError("event_type", "required"), check: IsValidationError, category: goerrors.CategoryValidation, code: http.StatusBadRequest},
		{name: "serialization", err: SerializationError(errors.New("json: unsupported type")), check: IsValidationError, category: goerrors.CategoryValidation, code: http.StatusBadRequest},
		{name: "configuration", err: ConfigurationError("core: outgoing secret is required", nil), check: IsConfigurationError, category: goerrors.CategoryInternal, code: http.StatusInternalServerError},
		{name: "signature", err: SignatureError("", nil), check: IsSignatureError, category: goerrors.CategoryAuth, code: http.StatusBadRequest},
		{name: "delivery", err: DeliveryError(nil, 500, nil), check: IsDeliveryError, category: goerrors.CategoryExternal, code: http.StatusBadGateway},
		{name: "dead letter", err: DeadLetterError(DispatchRecord{ID: "dsp_1"}, nil), check: IsDeadLetterError, category: goerrors.CategoryOperation, code: http.StatusInternalServerError},
		{name: "not found", err: NotFoundError("dsp_1"), check: IsNotFound, category: goerrors.CategoryNotFound, code: http.StatusNotFound},
		{name: "lease lost", err: LeaseLostError("dsp_1", "worker-a"), check: IsLeaseLost, category: goerrors.CategoryConflict, code: http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !tc.check(tc.err) {
				t.Fatalf("predicate did not match %v", tc.err)
			}
			if !tc.check(fmt.Errorf("wrapped: %w", tc.err)) {
				t.Fatalf("predicate did not match wrapped %v", tc.err)
			}
			var richErr *goerrors.Error
			if !goerrors.As(tc.err, &richErr) {
				t.Fatalf("expected go-errors envelope")
			}
			if richErr.Category != tc.category {
				t.Fatalf("expected category %s, got %s", tc.category, richErr.Category)
			}
			if richErr.Code != tc.code {
				t.Fatalf("expected code %d, got %d", tc.code, richErr.Code)
			}
		})
	}
}

func TestErrorTaxonomy_DeliveryMetadata(t *testing.T) {
	err := DeliveryError(errors.New("timeout"), 504, map[string]any{"dispatch_id": "dsp_1"})
	if err.Metadata["status_code"] != 504 {
		t.Fatalf("expected status code metadata, got %#v", err.Metadata)
	}
	if err.Metadata["dispatch_id"] != "dsp_1" {
		t.Fatalf("expected dispatch id metadata, got %#v", err.Metadata)
	}
}

func TestMapError(t *testing.T) {
	if MapError(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}

	mapped := MapError(ErrDispatchNotFound)
	if mapped.Code != http.StatusNotFound || mapped.TextCode != ErrorCodeNotFound {
		t.Fatalf("unexpected not found mapping %+v", mapped)
	}

	mapped = MapError(ErrLeaseLost)
	if mapped.Code != http.StatusConflict || mapped.TextCode != ErrorCodeLeaseLost {
		t.Fatalf("unexpected lease lost mapping %+v", mapped)
	}

	mapped = MapError(errors.New("core: dispatch store is not configured"))
	if mapped.TextCode != ErrorCodeConfiguration {
		t.Fatalf("expected configuration mapping, got %s", mapped.TextCode)
	}

	mapped = MapError(errors.New("core: batch_size is required"))
	if mapped.TextCode != ErrorCodeValidation || mapped.Code != http.StatusBadRequest {
		t.Fatalf("expected validation mapping, got %s/%d", mapped.TextCode, mapped.Code)
	}

	original := SignatureError("bad", nil)
	if MapError(original) != original {
		t.Fatalf("expected rich errors to pass through")
	}

	mapped = MapError(errors.New("boom"))
	if mapped.Code == 0 || mapped.TextCode == "" {
		t.Fatalf("expected envelope defaults, got %+v", mapped)
	}
}
