package report

import (
	"errors"
	"fmt"
)

// ///////////////////////////////////////////////
// Severity
// ///////////////////////////////////////////////

// Severity is how serious a report is.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityError, SeverityWarning, SeverityInfo:
		return true
	}
	return false
}

// ///////////////////////////////////////////////
// Severity Reasons
// ///////////////////////////////////////////////

// Reasons a report was given its severity.
const (
	ReasonUnhandledException = "unhandledException"
	ReasonStrictMode         = "strictMode"
	ReasonHandledException   = "handledException"
	ReasonUserSpecified      = "userSpecifiedSeverity"
	ReasonCallbackSpecified  = "userCallbackSetSeverity"
	// ReasonANR marks a freeze detected through the freeze signal.
	ReasonANR = "anrError"
)

var (
	// ErrUnknownReason is returned for a reason type outside the list above.
	ErrUnknownReason = errors.New("unknown severity reason")
	// ErrInvalidHandledState is returned when a reason is combined with
	// arguments it does not accept.
	ErrInvalidHandledState = errors.New("invalid handled state")
)

// SeverityReason is the serialized form of a [HandledState].
type SeverityReason struct {
	Type       string            `json:"type"`
	Attributes *ReasonAttributes `json:"attributes,omitempty"`
}

// ReasonAttributes carries reason-specific detail.
type ReasonAttributes struct {
	ViolationType string `json:"violationType"`
}

// ///////////////////////////////////////////////
// HandledState
// ///////////////////////////////////////////////

// HandledState records why a report has its default severity and whether
// the failure was caught by the application.
type HandledState struct {
	reason    string
	attribute string
	severity  Severity
	unhandled bool
}

// NewHandledState validates a reason and its arguments. severity may only
// be given with ReasonUserSpecified, and attribute only (and always) with
// ReasonStrictMode.
func NewHandledState(reason string, severity Severity, attribute string) (HandledState, error) {
	if reason == ReasonStrictMode && attribute == "" {
		return HandledState{}, fmt.Errorf("%w: %s requires a violation type", ErrInvalidHandledState, reason)
	}
	if reason != ReasonStrictMode && attribute != "" {
		return HandledState{}, fmt.Errorf("%w: %s takes no attribute", ErrInvalidHandledState, reason)
	}
	if severity != "" && reason != ReasonUserSpecified {
		return HandledState{}, fmt.Errorf("%w: severity given for %s", ErrInvalidHandledState, reason)
	}

	switch reason {
	case ReasonUnhandledException, ReasonANR:
		return HandledState{reason: reason, severity: SeverityError, unhandled: true}, nil
	case ReasonStrictMode:
		return HandledState{reason: reason, severity: SeverityWarning, unhandled: true, attribute: attribute}, nil
	case ReasonHandledException:
		return HandledState{reason: reason, severity: SeverityWarning}, nil
	case ReasonUserSpecified:
		if !severity.Valid() {
			return HandledState{}, fmt.Errorf("%w: severity %q", ErrInvalidHandledState, severity)
		}
		return HandledState{reason: reason, severity: severity}, nil
	default:
		return HandledState{}, fmt.Errorf("%w: %q", ErrUnknownReason, reason)
	}
}

// MustHandledState is NewHandledState for arguments known to be valid.
func MustHandledState(reason string, severity Severity, attribute string) HandledState {
	h, err := NewHandledState(reason, severity, attribute)
	if err != nil {
		panic(err)
	}
	return h
}

// CalculateReasonType returns the reason to report once the severity is s:
// the original reason while s is still the default, otherwise
// ReasonCallbackSpecified.
func (h HandledState) CalculateReasonType(s Severity) string {
	if s == h.severity {
		return h.reason
	}
	return ReasonCallbackSpecified
}

// Severity returns the default severity for the reason.
func (h HandledState) Severity() Severity { return h.severity }

// Unhandled reports whether the failure escaped the application.
func (h HandledState) Unhandled() bool { return h.unhandled }

// Reason returns the serialized reason for severity s.
func (h HandledState) Reason(s Severity) SeverityReason {
	r := SeverityReason{Type: h.CalculateReasonType(s)}
	if h.attribute != "" {
		r.Attributes = &ReasonAttributes{ViolationType: h.attribute}
	}
	return r
}
