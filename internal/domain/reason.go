package domain

import (
	"errors"
	"fmt"
)

// Reason is a stable failure code recorded in the run report. It implements
// error so it can be wrapped with context and recovered with [ReasonOf].
type Reason string

func (r Reason) Error() string { return string(r) }

// Run-fatal.
const (
	ReasonArchiveCorrupt Reason = "archive_corrupt"
)

// Member-fatal: the file is reported and the run continues.
const (
	ReasonDialectUnknown       Reason = "dialect_unknown"
	ReasonPreambleMalformed    Reason = "preamble_malformed"
	ReasonTooManyMalformedRows Reason = "too_many_malformed_rows"
	ReasonMemberUnreadable     Reason = "member_unreadable"
	ReasonMemberTooLarge       Reason = "member_too_large"
	ReasonUnsupportedMember    Reason = "unsupported_member"
)

// Row-fatal: the row is counted as rejected.
const (
	ReasonUnparseableTimestamp Reason = "unparseable_timestamp"
	ReasonNoUsableMeasurements Reason = "no_usable_measurements"
	ReasonWrongColumnCount     Reason = "wrong_column_count"
	ReasonUndecodableBytes     Reason = "undecodable_bytes"
	ReasonMalformedRow         Reason = "malformed_row"
	ReasonDuplicateObservation Reason = "duplicate_observation"
)

// ReasonOf extracts the Reason wrapped in err, if any.
func ReasonOf(err error) (Reason, bool) {
	var r Reason
	if errors.As(err, &r) {
		return r, true
	}
	return "", false
}

// RowRejection describes a single row that could not become an observation.
type RowRejection struct {
	Member string
	Line   int
	Reason Reason
	Detail string
}

func (r RowRejection) Error() string {
	if r.Detail == "" {
		return fmt.Sprintf("%s line %d: %s", r.Member, r.Line, r.Reason)
	}
	return fmt.Sprintf("%s line %d: %s: %s", r.Member, r.Line, r.Reason, r.Detail)
}

// Unwrap exposes the reason to errors.As.
func (r RowRejection) Unwrap() error { return r.Reason }
