package reusepool

var (
	ErrEmpty       = &PoolError{"no free ranges in pool"}
	ErrAlreadyFree = &PoolError{"range is already free"}
	ErrInvalidSize = &PoolError{"requested size must be positive"}
)

type PoolError struct {
	Msg string
}

func (e *PoolError) Error() string {
	return e.Msg
}

func (e *PoolError) Is(target error) bool {
	if targetErr, ok := target.(*PoolError); ok {
		return e.Msg == targetErr.Msg
	}
	return false
}
