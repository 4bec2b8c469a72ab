package hashing

import (
	"fmt"
	"strconv"
)

// RevisionId orders a movie's manifests. Values take the form "rev-NNNN".
// Ids of equal width compare lexicographically in numeric order, since
// NextRevisionId keeps the zero-padded width; once the suffix outgrows it
// (rev-9999 -> rev-10000) the wider id sorts before the narrower ones under
// string comparison.
type RevisionId string

// FirstRevision is the revision assigned to a movie's first manifest.
const FirstRevision RevisionId = "rev-0001"

// NextRevisionId increments the numeric suffix of prev by one, preserving
// the zero-padded width unless the increment overflows it (rev-9999 ->
// rev-10000), in which case the id grows by one digit rather than wrapping.
func NextRevisionId(prev RevisionId) RevisionId {
	digits, width := parseRevision(prev)
	next := digits + 1
	return RevisionId(fmt.Sprintf("rev-%0*d", width, next))
}

// parseRevision extracts the numeric suffix and its zero-padded width from
// id. An id that doesn't match the "rev-NNNN" shape is treated as rev-0000
// with width 4, so malformed or missing previous revisions still produce a
// valid next id.
func parseRevision(id RevisionId) (digits int, width int) {
	const prefix = "rev-"
	s := string(id)
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return 0, 4
	}
	suffix := s[len(prefix):]
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, 4
	}
	return n, len(suffix)
}
