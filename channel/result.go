// Package channel defines the adapter contract shared by all delivery
// channels, the process-wide adapter registry, and the batch sender that
// turns one job's recipient list into positional per-recipient results.
package channel

import (
	"fmt"
	"strings"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Synthetic error keys produced by the batch sender itself.
const (
	ErrInvalidRecipient = "Invalid recipient data"
	ErrMissingMeta      = "Missing meta for recipient"
	ErrInternalSend     = "INTERNAL_SEND_ERROR"
	ErrSkipped          = "PROCESSING_ERROR_OR_SKIPPED"
)

// Result is the outcome of a single send attempt. Error, when set, is a
// short stable key suitable for use as a stats counter name.
type Result struct {
	Status    string      `json:"status"`
	Recipient string      `json:"recipient"`
	Response  interface{} `json:"response,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// Success builds a success result carrying the transport's opaque response.
func Success(recipient string, response interface{}) Result {
	return Result{Status: StatusSuccess, Recipient: recipient, Response: response}
}

// Failure builds an error result.
func Failure(recipient, errKey string) Result {
	return Result{Status: StatusError, Recipient: recipient, Error: errKey}
}

// FailureWithResponse builds an error result that also carries a structured
// error descriptor for the caller.
func FailureWithResponse(recipient, errKey string, response interface{}) Result {
	return Result{Status: StatusError, Recipient: recipient, Error: errKey, Response: response}
}

// InvalidRecipientPlaceholder is the synthetic recipient used when the
// input at index i was unusable.
func InvalidRecipientPlaceholder(i int) string {
	return fmt.Sprintf("invalid_recipient_at_index_%d", i)
}

// maxErrorKeyLen bounds error keys so they stay usable as hash field names.
const maxErrorKeyLen = 255

var errKeySanitizer = strings.NewReplacer(
	" ", "_", "\t", "_", "\n", "_", "\r", "_",
	".", "", ":", "", ";", "", ",", "",
	"*", "", "+", "", "?", "", "^", "", "$", "",
	"{", "", "}", "", "(", "", ")", "",
	"|", "", "[", "", "]", "", "\\", "",
)

// ErrorKey builds the colon-delimited "<code>:<sanitized-message>" key used
// across every adapter: whitespace becomes underscores, punctuation that
// would break counter names is stripped, and the whole key is truncated to
// 255 characters.
func ErrorKey(code, message string) string {
	key := code + ":" + SanitizeErrorMessage(message)
	if len(key) > maxErrorKeyLen {
		key = key[:maxErrorKeyLen]
	}
	return key
}

// SanitizeErrorMessage applies the shared sanitization table to a raw
// transport error message.
func SanitizeErrorMessage(message string) string {
	return errKeySanitizer.Replace(message)
}
