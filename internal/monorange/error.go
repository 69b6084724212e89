package monorange

import "fmt"

// ErrInvalidRange matches any RangeError via errors.Is.
var ErrInvalidRange = &RangeError{Msg: "invalid range"}

// RangeError is returned when a range is constructed with start > end.
type RangeError struct {
	Msg        string
	Start, End int64
}

func (e *RangeError) Error() string {
	if e == ErrInvalidRange {
		return e.Msg
	}
	return fmt.Sprintf("%s: start %d is greater than end %d", e.Msg, e.Start, e.End)
}

func (e *RangeError) Is(target error) bool {
	if targetErr, ok := target.(*RangeError); ok {
		return e.Msg == targetErr.Msg
	}
	return false
}
