package session

import (
	"os"
	"syscall"
	"time"

	"github.com/boxvault/boxvault/pkg/berr"
)

// DefaultMaxWaitForHousekeeping is MAX_WAIT_FOR_HOUSEKEEPING_TO_RELEASE_ACCOUNT,
// spec.md §9 example 6: 4 seconds.
const DefaultMaxWaitForHousekeeping = 4 * time.Second

// AccountLock is the advisory per-account write lock, spec.md §4.6
// ("acquire an advisory lock on the per-account write-lock file"). Grounded
// on syscall.Flock — no pack example implements cooperative file locking,
// so this stays stdlib, the same justification pkg/sos gives for reading
// inode numbers via syscall.Stat_t.
type AccountLock struct {
	path string
	f    *os.File
}

// Acquire takes the write lock at path, non-blocking. If it is already
// held, it sends a release request on releaseRequested (if non-nil —
// pkg/housekeeping listens on the paired channel) and retries with a short
// backoff until maxWait elapses, at which point it gives up with
// berr.CodeCouldNotLockStoreAccount.
func Acquire(path string, releaseRequested chan<- struct{}, maxWait time.Duration) (*AccountLock, error) {
	const op = "session.Acquire"
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitForHousekeeping
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, berr.New(berr.CodeCouldNotLockStoreAccount, op, err)
	}

	deadline := time.Now().Add(maxWait)
	requestedRelease := false
	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return &AccountLock{path: path, f: f}, nil
		}
		if time.Now().After(deadline) {
			f.Close()
			return nil, berr.New(berr.CodeCouldNotLockStoreAccount, op, err)
		}
		if !requestedRelease && releaseRequested != nil {
			select {
			case releaseRequested <- struct{}{}:
			default:
			}
			requestedRelease = true
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Release drops the lock and closes the underlying file.
func (l *AccountLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	closeErr := l.f.Close()
	l.f = nil
	if err != nil {
		return err
	}
	return closeErr
}
