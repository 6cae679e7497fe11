package atom

import (
	"strconv"
	"strings"
)

// parseStreamID splits a Redis stream id "<ms>-<seq>" into its two
// integer components. Returns ErrInvalidStreamID if id isn't in that
// shape -- ids this package compares always come from the server, so
// a parse failure here signals a protocol-level bug, not bad user input.
func parseStreamID(id string) (ms, seq int64, err error) {
	ms0, seq0, ok := strings.Cut(id, "-")
	if !ok {
		return 0, 0, ErrInvalidStreamID
	}
	ms, err = strconv.ParseInt(ms0, 10, 64)
	if err != nil {
		return 0, 0, ErrInvalidStreamID
	}
	seq, err = strconv.ParseInt(seq0, 10, 64)
	if err != nil {
		return 0, 0, ErrInvalidStreamID
	}
	return ms, seq, nil
}

// compareStreamIDs orders two stream ids the way Redis itself orders
// them: by millisecond timestamp, then by sequence number. Returns -1,
// 0, or 1. Malformed ids are treated as sorting before anything valid,
// which keeps callers' CAS loops making progress even if the server
// ever returns something unexpected.
func compareStreamIDs(a, b string) int {
	aMs, aSeq, aErr := parseStreamID(a)
	bMs, bSeq, bErr := parseStreamID(b)
	switch {
	case aErr != nil && bErr != nil:
		return 0
	case aErr != nil:
		return -1
	case bErr != nil:
		return 1
	}
	if aMs != bMs {
		if aMs < bMs {
			return -1
		}
		return 1
	}
	if aSeq != bSeq {
		if aSeq < bSeq {
			return -1
		}
		return 1
	}
	return 0
}
