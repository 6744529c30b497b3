package utils

import (
	"context"
	"errors"
	"os"
	"time"
)

// PathIsDir returns an error if p does not exist or is not a directory.
func PathIsDir(p string) error {
	fi, err := os.Stat(p)
	if err != nil {
		return err
	}

	if !fi.IsDir() {
		return errors.New("Path " + p + " is not a directory")
	}

	return nil
}

// EnsureDirExists verifies path is a directory and creates it if it doesn't
// exist.
func EnsureDirExists(path string) error {
	fi, err := os.Stat(path)
	if err == nil {
		if !fi.IsDir() {
			return errors.New(path + " is not a directory")
		}
	} else {
		if os.IsNotExist(err) {
			err = os.Mkdir(path, 0755)
			if err != nil {
				return err
			}
		} else {
			return err
		}
	}

	return nil
}

// WaitUntil evaluates pred every interval until it returns true or ctx is
// done. The caller is suspended between evaluations; there is no busy
// spinning.
func WaitUntil(ctx context.Context, interval time.Duration, pred func() bool) error {
	if pred() {
		return nil
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if pred() {
				return nil
			}
		}
	}
}
