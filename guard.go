package gsmppp

import "time"

// guard is a mutex with bounded acquisition. Every field of the shared
// modem state is read and written with the guard held.
type guard chan struct{}

func newGuard() guard {
	return make(guard, 1)
}

// tryLock acquires the guard, giving up after timeout.
func (g guard) tryLock(timeout time.Duration) bool {
	select {
	case g <- struct{}{}:
		return true
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case g <- struct{}{}:
		return true
	case <-t.C:
		return false
	}
}

func (g guard) lock() {
	g <- struct{}{}
}

func (g guard) unlock() {
	select {
	case <-g:
	default:
		panic("gsmppp: unlock of unlocked guard")
	}
}

func (g guard) held() bool {
	return len(g) == 1
}
