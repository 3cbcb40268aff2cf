// Error normalization for the vehicle-control transport.
//
// Vendor transports report failures as free-form strings. Dispatch and
// telemetry policy (retry vs escalate vs reconcile) must not depend on
// vendor wording, so errors are normalized through deterministic token
// tables before any decision is made on them.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Normalized transport errors.
var (
	// ErrTransient marks a failure that is safe to retry with backoff.
	ErrTransient = errors.New("TRANSIENT")

	// ErrUnavailable marks a transport that is down or disconnected.
	ErrUnavailable = errors.New("UNAVAILABLE")

	// ErrUnknownOutcome marks a call that timed out after the command may
	// have reached the vehicle. Requires reconciliation, never blind retry.
	ErrUnknownOutcome = errors.New("UNKNOWN_OUTCOME")

	// ErrInvalidCommand marks a command the vehicle rejected as malformed
	// or out of range.
	ErrInvalidCommand = errors.New("INVALID_COMMAND")

	// ErrInternal marks everything the tables do not classify.
	ErrInternal = errors.New("INTERNAL")
)

// VendorMap defines the error token mapping for a specific vendor transport.
type VendorMap struct {
	Transient   []string // Tokens that map to TRANSIENT
	Unavailable []string // Tokens that map to UNAVAILABLE
	Unknown     []string // Tokens that map to UNKNOWN_OUTCOME
	Invalid     []string // Tokens that map to INVALID_COMMAND
}

// VendorErrorMappings contains the deterministic mapping tables per vendor.
// Unknown tokens map to INTERNAL; unknown vendors fall back to "generic".
var VendorErrorMappings = map[string]VendorMap{
	"krpc": {
		Transient: []string{
			"CONNECTION_RESET",
			"STREAM_LAGGED",
			"RPC_BUSY",
			"RATE_LIMITED",
			"TEMPORARY_FAILURE",
		},
		Unavailable: []string{
			"CONNECTION_REFUSED",
			"SERVER_UNAVAILABLE",
			"VESSEL_NOT_FOUND",
			"NOT_CONNECTED",
			"GAME_PAUSED",
		},
		Unknown: []string{
			"DEADLINE_EXCEEDED",
			"CALL_TIMEOUT",
			"CONTEXT_DEADLINE",
		},
		Invalid: []string{
			"INVALID_ARGUMENT",
			"OUT_OF_RANGE",
			"PART_NOT_FOUND",
			"INVALID_STAGE",
		},
	},
	"generic": {
		Transient: []string{
			"TRANSIENT",
			"RETRY",
			"BUSY",
			"RESET",
			"TEMPORARY_FAILURE",
			"TOO_MANY_REQUESTS",
		},
		Unavailable: []string{
			"UNAVAILABLE",
			"REFUSED",
			"OFFLINE",
			"DISCONNECTED",
			"NOT_READY",
		},
		Unknown: []string{
			"TIMEOUT",
			"DEADLINE",
			"UNKNOWN_OUTCOME",
		},
		Invalid: []string{
			"INVALID",
			"OUT_OF_RANGE",
			"BAD_VALUE",
		},
	},
}

// VendorError wraps a vendor error with its normalized code and the opaque
// vendor payload for diagnostics.
type VendorError struct {
	Code     error       // Normalized transport code
	Original error       // Vendor error
	Details  interface{} // Vendor payload (opaque)
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("%v (vendor: %v)", e.Code, e.Original)
}

func (e *VendorError) Unwrap() error {
	return e.Code
}

// NormalizeVendorError maps a vendor error to a normalized code using the
// generic mapping table.
func NormalizeVendorError(vendorErr error, vendorPayload interface{}) error {
	return NormalizeVendorErrorWithVendor(vendorErr, vendorPayload, "generic")
}

// NormalizeVendorErrorWithVendor maps a vendor error using a specific
// vendor's mapping table.
func NormalizeVendorErrorWithVendor(vendorErr error, vendorPayload interface{}, vendorID string) error {
	if vendorErr == nil {
		return nil
	}

	// Already normalized: normalization is idempotent so call sites can
	// apply it unconditionally.
	var ve *VendorError
	if errors.As(vendorErr, &ve) {
		return vendorErr
	}

	// Context deadline and cancellation are ambiguous by definition: the
	// command may have reached the vehicle before the deadline fired.
	if errors.Is(vendorErr, context.DeadlineExceeded) || errors.Is(vendorErr, context.Canceled) {
		return &VendorError{Code: ErrUnknownOutcome, Original: vendorErr, Details: vendorPayload}
	}

	code := mapVendorErrorToCode(vendorErr.Error(), vendorID)

	return &VendorError{
		Code:     code,
		Original: vendorErr,
		Details:  vendorPayload,
	}
}

// mapVendorErrorToCode maps a vendor error message to a normalized code.
func mapVendorErrorToCode(msg string, vendorID string) error {
	vendorMap, exists := VendorErrorMappings[vendorID]
	if !exists {
		vendorMap = VendorErrorMappings["generic"]
	}

	upperMsg := strings.ToUpper(msg)

	for _, token := range vendorMap.Transient {
		if strings.Contains(upperMsg, token) {
			return ErrTransient
		}
	}

	for _, token := range vendorMap.Unavailable {
		if strings.Contains(upperMsg, token) {
			return ErrUnavailable
		}
	}

	for _, token := range vendorMap.Unknown {
		if strings.Contains(upperMsg, token) {
			return ErrUnknownOutcome
		}
	}

	for _, token := range vendorMap.Invalid {
		if strings.Contains(upperMsg, token) {
			return ErrInvalidCommand
		}
	}

	return ErrInternal
}
