package blockalloc

var (
	ErrBlockExhausted        = &AllocError{"block has no values left"}
	ErrNotIssued             = &AllocError{"value was not issued by this allocator"}
	ErrReclaimed             = &AllocError{"block was already reclaimed"}
	ErrCommittedOutsideLease = &AllocError{"committed value is outside the lease"}
	ErrLeaseOpen             = &AllocError{"lease is still held by an open block"}
	ErrLeaseNotIssued        = &AllocError{"lease was never issued by the counter"}
)

type AllocError struct {
	Msg string
}

func (e *AllocError) Error() string {
	return e.Msg
}

func (e *AllocError) Is(target error) bool {
	if targetErr, ok := target.(*AllocError); ok {
		return e.Msg == targetErr.Msg
	}
	return false
}
