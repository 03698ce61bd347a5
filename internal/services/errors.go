package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrTransient     = errors.New("transient failure")
	ErrPermanent     = errors.New("permanent failure")
	ErrConfiguration = errors.New("configuration error")
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
)

// ErrorKind is the coarse classification the scheduler uses to pick the next state.
type ErrorKind string

const (
	KindTransient     ErrorKind = "transient"
	KindPermanent     ErrorKind = "permanent"
	KindConfiguration ErrorKind = "configuration"
	KindValidation    ErrorKind = "validation"
	KindTimeout       ErrorKind = "timeout"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error onto the retry taxonomy. Deadline expiry counts as a
// timeout even when the adapter did not wrap it. ErrNotFound is treated as
// permanent: a recording the provider no longer has will not come back.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindTransient
	case errors.Is(err, ErrPermanent), errors.Is(err, ErrNotFound):
		return KindPermanent
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindTransient
	}
}

// IsPermanent reports whether err should abandon a row without spending retries.
func IsPermanent(err error) bool {
	return Classify(err) == KindPermanent
}

// IsConfiguration reports whether err is caused by missing or invalid settings.
func IsConfiguration(err error) bool {
	return Classify(err) == KindConfiguration
}

// Message returns a trimmed human readable form of err suitable for persisting
// in the ledger.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	const limit = 1024
	if len(msg) <= limit {
		return msg
	}
	// Cut on a rune boundary; Postgres rejects invalid UTF-8 in TEXT.
	cut := limit
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
