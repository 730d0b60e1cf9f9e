package engine

import (
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// JobLock is an exclusive advisory lock on the config.json of a job. Job
// plugins hold it for exactly one object mutation.
type JobLock struct {
	file *os.File
}

// LockJob blocks until the lock on the job's config.json is acquired.
func LockJob(runDir string, jobID int64) (*JobLock, error) {
	path := filepath.Join(runDir, strconv.FormatInt(jobID, 10), "config.json")
	f, err := os.Open(path)
	if err != nil {
		return nil, Errorf(ErrCodeLock, "failed to open %s", path).Wrap(err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, Errorf(ErrCodeLock, "failed to lock %s", path).Wrap(err)
	}
	return &JobLock{file: f}, nil
}

// Unlock releases the lock by closing the file.
func (l *JobLock) Unlock() error {
	return l.file.Close()
}
