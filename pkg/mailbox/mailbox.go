// Package mailbox implements the filesystem handoff between a try client
// and the jobdir scheduler. A job is written fully under tmp/ and then
// atomically renamed into new/; the scheduler moves consumed entries to
// cur/. The rename is the only synchronization between writer and reader.
package mailbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/buildmill/tryd/pkg/jobfile"
	"github.com/buildmill/tryd/pkg/types"
	"github.com/buildmill/tryd/pkg/utils"
	"github.com/google/uuid"
)

const (
	newDir = "new"
	tmpDir = "tmp"
	curDir = "cur"
)

// Mailbox is a jobdir rooted at a directory with the new/tmp/cur layout.
type Mailbox struct {
	root string
}

// New returns a Mailbox rooted at root, creating the new/, tmp/ and cur/
// subdirectories if needed. root itself must already exist.
func New(root string) (*Mailbox, error) {
	err := utils.PathIsDir(root)
	if err != nil {
		return nil, err
	}

	for _, sub := range []string{newDir, tmpDir, curDir} {
		err = utils.EnsureDirExists(filepath.Join(root, sub))
		if err != nil {
			return nil, err
		}
	}

	return &Mailbox{root: root}, nil
}

// Root returns the jobdir root the mailbox operates on.
func (m *Mailbox) Root() string {
	return m.root
}

// Deliver writes j into the mailbox and returns the entry name. The entry
// becomes visible under new/ only after it has been fully written;
// concurrent deliveries never collide.
func (m *Mailbox) Deliver(j *types.Job) (string, error) {
	data, err := jobfile.Encode(j)
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("%d.%s", time.Now().UnixNano(), uuid.New().String())
	tmpPath := filepath.Join(m.root, tmpDir, name)

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", err
	}
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return "", err
	}

	err = os.Rename(tmpPath, filepath.Join(m.root, newDir, name))
	if err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	return name, nil
}

// Poll scans new/ in directory-listing order, decodes each entry and moves
// it to cur/. It never blocks and returns an empty slice when new/ is
// empty.
//
// A malformed entry is left in place and reported through the returned
// error (a join of per-entry types.ErrMalformedJob values); the remaining
// entries are still processed.
func (m *Mailbox) Poll() ([]*types.Job, error) {
	entries, err := os.ReadDir(filepath.Join(m.root, newDir))
	if err != nil {
		return nil, err
	}

	var jobs []*types.Job
	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(m.root, newDir, e.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		j, err := jobfile.Decode(data)
		if err != nil {
			var malformed types.ErrMalformedJob
			if errors.As(err, &malformed) {
				malformed.File = e.Name()
				err = malformed
			}
			errs = append(errs, err)
			continue
		}

		err = os.Rename(path, filepath.Join(m.root, curDir, e.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		jobs = append(jobs, j)
	}

	return jobs, errors.Join(errs...)
}
