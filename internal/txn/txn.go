// Package txn makes single-file mutations transactional.
//
// The target is renamed aside to a hidden name in its own directory, the
// mutation runs against the vacated path, and the backup is then either
// removed (commit) or renamed back (rollback):
//
//	path ──rename──► .<base>.samefile-<uuid>
//	   │
//	   ├──► perform(path) ok   ──► remove backup
//	   └──► perform(path) err  ──► remove path, rename backup ──► path
//
// The backup lives in the same directory so both renames stay on one
// filesystem and are atomic.
package txn

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/ivoronin/samefile/internal/logger"
)

// backupTag is embedded in every backup name.
const backupTag = ".samefile-"

var log = logger.GetLogger("txn")

var (
	// ErrRollbackFailed is matched by errors from transactions whose
	// rollback could not restore the original file.
	ErrRollbackFailed = errors.New("unrecoverable: file may be in an inconsistent state, manual recovery needed")

	// ErrResolved is returned when a guard is committed or rolled back twice.
	ErrResolved = errors.New("transaction already resolved")
)

// Error describes a failed transaction.
type Error struct {
	Path        string
	Backup      string
	Err         error // failure of the mutation itself
	Recovered   bool  // the original file is back in place
	RollbackErr error // set when Recovered is false
}

func (e *Error) Error() string {
	if e.Recovered {
		return fmt.Sprintf("%s: %v (rolled back)", e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v; %v (backup at %s: %v)", e.Path, e.Err, ErrRollbackFailed, e.Backup, e.RollbackErr)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches ErrRollbackFailed for unrecovered transactions.
func (e *Error) Is(target error) bool {
	return target == ErrRollbackFailed && !e.Recovered
}

// Aside guards a file moved to its backup name. Exactly one of Commit or
// Rollback takes effect; Close rolls back if neither ran.
type Aside struct {
	path     string
	backup   string
	resolved bool
}

// MoveAside renames path to a fresh backup name in the same directory. On
// error nothing has changed.
func MoveAside(path string) (*Aside, error) {
	backup := BackupName(path)
	if err := os.Rename(path, backup); err != nil {
		return nil, fmt.Errorf("move aside: %w", err)
	}
	return &Aside{path: path, backup: backup}, nil
}

// BackupName returns a hidden, unique sibling name for path.
func BackupName(path string) string {
	dir, base := filepath.Split(path)
	return filepath.Join(dir, "."+base+backupTag+uuid.NewString())
}

// IsBackupName reports whether name looks like a backup left by MoveAside.
func IsBackupName(name string) bool {
	base := filepath.Base(name)
	if len(base) == 0 || base[0] != '.' {
		return false
	}
	i := len(base) - len(uuid.Nil.String()) - len(backupTag)
	if i < 1 || base[i:i+len(backupTag)] != backupTag {
		return false
	}
	_, err := uuid.Parse(base[i+len(backupTag):])
	return err == nil
}

// Path returns the guarded path.
func (a *Aside) Path() string { return a.path }

// Backup returns the current location of the original file.
func (a *Aside) Backup() string { return a.backup }

// Commit discards the backup.
func (a *Aside) Commit() error {
	if a.resolved {
		return ErrResolved
	}
	a.resolved = true
	if err := os.Remove(a.backup); err != nil {
		return fmt.Errorf("remove backup: %w", err)
	}
	return nil
}

// Rollback removes whatever now occupies the path and renames the backup
// back into place.
func (a *Aside) Rollback() error {
	if a.resolved {
		return ErrResolved
	}
	a.resolved = true
	if err := os.Remove(a.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear %s: %w", a.path, err)
	}
	if err := os.Rename(a.backup, a.path); err != nil {
		return fmt.Errorf("restore backup: %w", err)
	}
	return nil
}

// Close rolls back unless the guard is already resolved.
func (a *Aside) Close() error {
	if a.resolved {
		return nil
	}
	return a.Rollback()
}

// Run moves path aside, calls perform(path) and commits on success. On
// failure it rolls back and returns an *Error. A backup that cannot be
// removed after a successful perform is logged, not returned.
func Run(path string, perform func(path string) error) error {
	return RunAside(path, func(a *Aside) error { return perform(a.Path()) })
}

// RunAside is Run for mutations that also need the backup, such as copying
// its metadata onto a replacement.
func RunAside(path string, perform func(a *Aside) error) error {
	a, err := MoveAside(path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	// Restores the file if perform panics.
	defer func() { _ = a.Close() }()

	if err := perform(a); err != nil {
		txErr := &Error{Path: path, Backup: a.backup, Err: err}
		if rbErr := a.Rollback(); rbErr != nil {
			txErr.RollbackErr = rbErr
			return txErr
		}
		txErr.Recovered = true
		return txErr
	}

	if err := a.Commit(); err != nil {
		log.Warnf("%s: %v, stale backup left at %s", path, err, a.backup)
	}
	return nil
}
