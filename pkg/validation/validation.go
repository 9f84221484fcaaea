// Package validation implements the Event Validator (C2): schema,
// field-constraint, and business-rule validation of incoming events. Schema
// and field-length/UUID/required-field checks run through
// go-playground/validator/v10 against the `validate` tags on events.Event;
// forbidden-character, business-rule, and cross-field checks are
// hand-written on top, since the validator package has no built-in for
// them. A validation failure is always terminal — the event is never
// dispatched.
package validation

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/cctelegram/bridge/pkg/events"
)

// ErrorKind is the closed taxonomy of validation failures (spec §4.2 — at
// least 14 variants).
type ErrorKind string

const (
	ErrMissingRequiredField   ErrorKind = "missing_required_field"
	ErrTitleOutOfRange        ErrorKind = "title_out_of_range"
	ErrDescriptionOutOfRange  ErrorKind = "description_out_of_range"
	ErrInvalidUUID            ErrorKind = "invalid_uuid"
	ErrInvalidTimestamp       ErrorKind = "invalid_timestamp"
	ErrInvalidEventType       ErrorKind = "invalid_event_type"
	ErrForbiddenCharacters    ErrorKind = "forbidden_characters"
	ErrNullByteDetected       ErrorKind = "null_byte_detected"
	ErrBusinessRuleViolation  ErrorKind = "business_rule_violation"
	ErrCrossFieldInconsistency ErrorKind = "cross_field_inconsistency"
	ErrPayloadTooLarge        ErrorKind = "payload_too_large"
	ErrTaskIDTooLong          ErrorKind = "task_id_too_long"
	ErrMalformedData          ErrorKind = "malformed_data"
	ErrNonUTF8Encoding        ErrorKind = "non_utf8_encoding"
)

// Severity classifies how serious a ValidationError is for logging/alerting.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ValidationError carries a stable Kind, a user-facing Message, and a
// Severity; it is always terminal for the event that triggered it.
type ValidationError struct {
	Kind     ErrorKind
	Field    string
	Message  string
	Severity Severity
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newErr(kind ErrorKind, field, message string, sev Severity) *ValidationError {
	return &ValidationError{Kind: kind, Field: field, Message: message, Severity: sev}
}

// Validator validates events against schema, field-constraint, and
// business-rule requirements.
type Validator struct {
	structValidate *validator.Validate
}

// New returns a ready-to-use Validator.
func New() *Validator {
	return &Validator{structValidate: validator.New()}
}

// Validate runs every rule in spec §4.2 against e, returning the first
// failure encountered (validate-first ordering per spec §9's Open Question
// resolution — see DESIGN.md). Schema/length/UUID/required-field checks run
// through go-playground/validator/v10 first; hand-written checks cover what
// the validator has no tag for.
func (val *Validator) Validate(e events.Event) error {
	if err := val.structValidate.Struct(e); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			return mapFieldError(fieldErrs[0])
		}
		return newErr(ErrMalformedData, "", "event failed schema validation", SeverityError)
	}

	if err := validateRFC3339UTC(e.Timestamp); err != nil {
		return err
	}

	if strings.ContainsRune(e.Title, 0) {
		return newErr(ErrNullByteDetected, "title", "title contains a null byte", SeverityCritical)
	}
	if strings.ContainsRune(e.Description, 0) {
		return newErr(ErrNullByteDetected, "description", "description contains a null byte", SeverityCritical)
	}
	if containsForbidden(e.Title) {
		return newErr(ErrForbiddenCharacters, "title", "title contains forbidden characters", SeverityError)
	}

	if e.TaskID != "" && !isUUID(e.TaskID) && containsForbidden(e.TaskID) {
		return newErr(ErrForbiddenCharacters, "task_id", "task_id contains forbidden characters", SeverityError)
	}

	if err := validateDataSize(e); err != nil {
		return err
	}

	if e.Type.IsUnknown() {
		return newErr(ErrInvalidEventType, "type", "event type is not recognized", SeverityWarning)
	}

	if err := validateBusinessRules(e); err != nil {
		return err
	}

	if err := validateCrossField(e); err != nil {
		return err
	}

	canonical, err := e.Canonical()
	if err != nil {
		return newErr(ErrMalformedData, "data", "event could not be canonically serialized", SeverityError)
	}
	if len(canonical) > events.MaxSerializedBytes {
		return newErr(ErrPayloadTooLarge, "", "serialized event exceeds the 1 MiB ceiling", SeverityError)
	}

	return nil
}

// mapFieldError translates the first go-playground/validator failure on
// events.Event into this package's closed ErrorKind taxonomy.
func mapFieldError(fe validator.FieldError) *ValidationError {
	switch fe.Field() {
	case "EventID":
		if fe.Tag() == "required" {
			return newErr(ErrMissingRequiredField, "event_id", "event_id is required", SeverityError)
		}
		return newErr(ErrInvalidUUID, "event_id", "event_id must be a UUID v4", SeverityError)
	case "Timestamp":
		return newErr(ErrInvalidTimestamp, "timestamp", "timestamp is required", SeverityError)
	case "Title":
		return newErr(ErrTitleOutOfRange, "title",
			fmt.Sprintf("title must be between %d and %d characters", events.MinTitleLen, events.MaxTitleLen),
			SeverityError)
	case "Description":
		return newErr(ErrDescriptionOutOfRange, "description",
			fmt.Sprintf("description must be between %d and %d characters", events.MinDescriptionLen, events.MaxDescriptionLen),
			SeverityError)
	case "TaskID":
		return newErr(ErrTaskIDTooLong, "task_id",
			fmt.Sprintf("task_id must be %d characters or fewer", events.MaxTaskIDLen), SeverityError)
	case "CorrelationID":
		return newErr(ErrInvalidUUID, "correlation_id", "correlation_id must be a UUID", SeverityError)
	default:
		return newErr(ErrMalformedData, strings.ToLower(fe.Field()), fe.Error(), SeverityError)
	}
}

func validateDataSize(e events.Event) error {
	canonical, err := e.Canonical()
	if err != nil {
		return newErr(ErrMalformedData, "data", "event data could not be serialized", SeverityError)
	}
	dataOnly := 0
	if e.Data != nil {
		if nested, nerr := jsonSizeOf(e.Data); nerr == nil {
			dataOnly = nested
		}
	}
	if dataOnly > events.MaxDataBytes {
		return newErr(ErrPayloadTooLarge, "data",
			fmt.Sprintf("data exceeds the %d byte ceiling", events.MaxDataBytes), SeverityError)
	}
	_ = canonical
	return nil
}

// validateBusinessRules enforces the per-type required-field table in
// pkg/events.RequiredFields.
func validateBusinessRules(e events.Event) error {
	for _, field := range events.RequiredFields(e.Type) {
		if e.Data == nil {
			return newErr(ErrBusinessRuleViolation, field,
				fmt.Sprintf("event type %s requires data.%s", e.Type, field), SeverityError)
		}
		if _, ok := e.Data[field]; !ok {
			return newErr(ErrBusinessRuleViolation, field,
				fmt.Sprintf("event type %s requires data.%s", e.Type, field), SeverityError)
		}
	}
	return nil
}

// validateCrossField enforces relationships spanning more than one field.
func validateCrossField(e events.Event) error {
	if e.CorrelationID != "" && e.TaskID != "" && e.CorrelationID == e.TaskID {
		return newErr(ErrCrossFieldInconsistency, "correlation_id",
			"correlation_id must not equal task_id", SeverityWarning)
	}
	return nil
}

func validateRFC3339UTC(ts time.Time) error {
	// Re-parsing the formatted value guards against time.Time states that
	// never round-tripped through a strict RFC 3339 parse upstream.
	formatted := ts.Format(time.RFC3339)
	if _, err := time.Parse(time.RFC3339, formatted); err != nil {
		return newErr(ErrInvalidTimestamp, "timestamp", "timestamp must be RFC 3339", SeverityError)
	}
	return nil
}

func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i, c := range s {
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return false
			}
		default:
			if !isHex(byte(c)) {
				return false
			}
		}
	}
	return true
}

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

// containsForbidden rejects control characters and zero-width marks; the
// restricted grapheme set required by spec §3.
func containsForbidden(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
		switch r {
		case 0x200B, 0x200C, 0x200D, 0xFEFF: // zero-width marks / BOM
			return true
		}
	}
	return false
}

func jsonSizeOf(data map[string]interface{}) (int, error) {
	e := events.Event{Data: data}
	canonical, err := e.Canonical()
	if err != nil {
		return 0, err
	}
	return len(canonical), nil
}
