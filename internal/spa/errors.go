package spa

import (
	"errors"
	"fmt"
	"time"
)

// ErrNegativeTiming is matched by TimingError.
var ErrNegativeTiming = errors.New("negative navigation timing")

// TimingError reports a split that produced negative values.
type TimingError struct {
	URL     string
	Total   time.Duration
	BackEnd time.Duration
}

func (e *TimingError) Error() string {
	return fmt.Sprintf("spa: negative timing for %s: total=%v back-end=%v", e.URL, e.Total, e.BackEnd)
}

// Is matches ErrNegativeTiming.
func (e *TimingError) Is(target error) bool {
	return target == ErrNegativeTiming
}
