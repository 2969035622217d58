package core

import (
	"math"
	"time"
)

type BackoffPolicy interface {
	Delay(attempt int) time.Duration
}

// ExponentialBackoff doubles from Base on every attempt: attempt 1 waits
// Base, attempt 2 waits 2*Base, attempt n waits Base*2^(n-1). A zero Max
// leaves the delay uncapped.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	ceiling := b.Max
	if ceiling <= 0 {
		ceiling = time.Duration(math.MaxInt64)
	}

	shift := attempt - 1
	if shift >= 62 || base > ceiling>>shift {
		return ceiling
	}
	delay := base << shift
	if delay > ceiling {
		return ceiling
	}
	return delay
}

