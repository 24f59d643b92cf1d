package feed

import (
	"errors"
	"fmt"
)

// ErrDataUnavailable is returned when the object store has no blob for the
// requested date. Batch callers treat it as a skippable per-day failure.
var ErrDataUnavailable = errors.New("no data available for date")

// APIError represents a feed API error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("feed API error %d: %s", e.Status, e.Body)
}

// MalformedRecordError reports a feed record missing expected fields or
// carrying values that cannot be parsed. It fails the day, not the batch.
type MalformedRecordError struct {
	Date   string
	Index  int
	Reason string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record %d in %s blob: %s", e.Index, e.Date, e.Reason)
}
