package streamlog

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ID is a parsed "ms-seq" message id.
type ID struct {
	Ms  uint64
	Seq uint64
}

// ParseID parses "ms-seq" or a bare "ms" (sequence 0).
func ParseID(s string) (ID, error) {
	msPart, seqPart, hasSeq := strings.Cut(s, "-")
	ms, err := strconv.ParseUint(msPart, 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("invalid message id %q", s)
	}
	if !hasSeq {
		return ID{Ms: ms}, nil
	}
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("invalid message id %q", s)
	}
	return ID{Ms: ms, Seq: seq}, nil
}

func (id ID) String() string {
	return strconv.FormatUint(id.Ms, 10) + "-" + strconv.FormatUint(id.Seq, 10)
}

// Compare returns -1, 0 or 1.
func (id ID) Compare(other ID) int {
	switch {
	case id.Ms < other.Ms:
		return -1
	case id.Ms > other.Ms:
		return 1
	case id.Seq < other.Seq:
		return -1
	case id.Seq > other.Seq:
		return 1
	}
	return 0
}

func (id ID) Less(other ID) bool { return id.Compare(other) < 0 }

func (id ID) IsZero() bool { return id.Ms == 0 && id.Seq == 0 }

// next returns the id to assign after id at wall time now. Clock regressions
// keep the previous millisecond and bump the sequence.
func (id ID) next(now time.Time) ID {
	ms := uint64(now.UnixMilli())
	if ms > id.Ms {
		return ID{Ms: ms}
	}
	return ID{Ms: id.Ms, Seq: id.Seq + 1}
}

// CompareIDs orders two id strings. Unparseable ids sort before valid ones.
func CompareIDs(a, b string) int {
	ia, errA := ParseID(a)
	ib, errB := ParseID(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return ia.Compare(ib)
}
