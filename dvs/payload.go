package dvs

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// PayloadSeparator separates the timestamp and value fields of a payload.
const PayloadSeparator = ":"

// PayloadErrorKind identifies which step of payload parsing failed.
type PayloadErrorKind int

// Payload error kinds, in the order the parser checks them.
const (
	NonUTF8Payload PayloadErrorKind = iota
	InvalidPayloadFormat
	InvalidTimestamp
	InvalidMeasurementValue
)

// String returns the string representation of PayloadErrorKind
func (k PayloadErrorKind) String() string {
	switch k {
	case NonUTF8Payload:
		return "non_utf8_payload"
	case InvalidPayloadFormat:
		return "invalid_payload_format"
	case InvalidTimestamp:
		return "invalid_timestamp"
	case InvalidMeasurementValue:
		return "invalid_measurement_value"
	default:
		return "unknown"
	}
}

// Sentinels matched by *PayloadError via errors.Is, one per kind.
var (
	ErrNonUTF8Payload          = stderrors.New("non UTF-8 payload")
	ErrInvalidPayloadFormat    = stderrors.New("invalid payload format")
	ErrInvalidTimestamp        = stderrors.New("invalid measurement timestamp")
	ErrInvalidMeasurementValue = stderrors.New("invalid measurement value")
)

// PayloadError reports why a payload was rejected.
//
// Raw holds the offending text: the whole payload for InvalidPayloadFormat,
// the field for InvalidTimestamp and InvalidMeasurementValue. Bytes holds a
// copy of the payload for NonUTF8Payload.
type PayloadError struct {
	Kind  PayloadErrorKind
	Raw   string
	Bytes []byte
}

// Error implements the error interface
func (e *PayloadError) Error() string {
	switch e.Kind {
	case NonUTF8Payload:
		return fmt.Sprintf("Non UTF-8 payload: %v", e.Bytes)
	case InvalidPayloadFormat:
		return fmt.Sprintf("Invalid payload: %s. Expected payload format: <timestamp>:<value>", e.Raw)
	case InvalidTimestamp:
		return fmt.Sprintf("Invalid measurement timestamp: %s. Epoch time value expected", e.Raw)
	case InvalidMeasurementValue:
		return fmt.Sprintf("Invalid measurement value: %s. Must be a number", e.Raw)
	default:
		return fmt.Sprintf("Invalid payload: %s", e.Raw)
	}
}

// Is matches the sentinel for the error's kind.
func (e *PayloadError) Is(target error) bool {
	switch e.Kind {
	case NonUTF8Payload:
		return target == ErrNonUTF8Payload
	case InvalidPayloadFormat:
		return target == ErrInvalidPayloadFormat
	case InvalidTimestamp:
		return target == ErrInvalidTimestamp
	case InvalidMeasurementValue:
		return target == ErrInvalidMeasurementValue
	}
	return false
}

// ParsePayload decodes a "<timestamp>:<value>" payload and returns the value.
//
// The timestamp field must parse as a number but is otherwise discarded.
// The payload must already be trimmed of any trailing NUL terminator; see
// TrimPayload.
func ParsePayload(payload []byte) (float64, error) {
	if !utf8.Valid(payload) {
		return 0, &PayloadError{Kind: NonUTF8Payload, Bytes: bytes.Clone(payload)}
	}
	text := string(payload)

	timestamp, rest, found := strings.Cut(text, PayloadSeparator)
	if _, err := parseNumber(timestamp); err != nil {
		return 0, &PayloadError{Kind: InvalidTimestamp, Raw: timestamp}
	}

	if !found {
		return 0, &PayloadError{Kind: InvalidPayloadFormat, Raw: text}
	}

	field, _, extra := strings.Cut(rest, PayloadSeparator)
	value, err := parseNumber(field)
	if err != nil {
		return 0, &PayloadError{Kind: InvalidMeasurementValue, Raw: field}
	}

	if extra {
		return 0, &PayloadError{Kind: InvalidPayloadFormat, Raw: text}
	}

	return value, nil
}

// TrimPayload strips trailing NUL terminators some publishers append.
func TrimPayload(payload []byte) []byte {
	return bytes.TrimRight(payload, "\x00")
}

// parseNumber parses a decimal or scientific-notation literal as a float64.
// Literals beyond the float64 range saturate to ±Inf instead of failing.
// Go-only syntax (digit underscores, hex floats) is rejected.
func parseNumber(s string) (float64, error) {
	if strings.ContainsRune(s, '_') || isHexLiteral(s) {
		return 0, &strconv.NumError{Func: "ParseFloat", Num: s, Err: strconv.ErrSyntax}
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		var numErr *strconv.NumError
		if stderrors.As(err, &numErr) && numErr.Err == strconv.ErrRange {
			return v, nil
		}
		return 0, err
	}
	return v, nil
}

func isHexLiteral(s string) bool {
	s = strings.TrimLeft(s, "+-")
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
