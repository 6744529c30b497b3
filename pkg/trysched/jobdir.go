// Package trysched implements the two scheduler variants that turn
// delivered try jobs into buildsets: JobdirScheduler watches a filesystem
// mailbox, UserpassScheduler accepts authenticated network submissions.
// Both write to the same buildset store.
package trysched

import (
	"log/slog"
	"sync"
	"time"

	"github.com/buildmill/tryd/pkg/buildset"
	"github.com/buildmill/tryd/pkg/mailbox"
)

// JobdirScheduler polls a mailbox on a fixed interval and creates one
// buildset per decoded job. There is no return channel to the submitting
// process, so waiting for build results is unsupported over this path.
type JobdirScheduler struct {
	name         string
	builderNames []string
	mbox         *mailbox.Mailbox
	store        buildset.Store
	interval     time.Duration
	log          *slog.Logger

	mu     sync.Mutex
	active bool
	stop   chan struct{}
	done   chan struct{}
}

// NewJobdirScheduler returns an inactive scheduler named name, accepting
// only the given builders and polling mbox every interval once started.
func NewJobdirScheduler(name string, builderNames []string, mbox *mailbox.Mailbox,
	store buildset.Store, interval time.Duration, logger *slog.Logger) *JobdirScheduler {
	return &JobdirScheduler{
		name:         name,
		builderNames: builderNames,
		mbox:         mbox,
		store:        store,
		interval:     interval,
		log:          logger.With("scheduler", name),
	}
}

// Start activates the scheduler's poll loop. Starting an active scheduler
// is a no-op.
func (s *JobdirScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.watch(s.stop, s.done)
	s.log.Info("watching jobdir", "root", s.mbox.Root(), "interval", s.interval)
}

// Stop deactivates the scheduler and blocks until the poll loop has
// exited. Entries not yet consumed stay in new/ and are picked up again
// after a restart.
func (s *JobdirScheduler) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
}

// Active reports whether the scheduler is polling.
func (s *JobdirScheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *JobdirScheduler) watch(stop, done chan struct{}) {
	defer close(done)

	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
			err := s.Poll()
			if err != nil {
				s.log.Warn("mailbox poll reported errors", "err", err)
			}
		}
	}
}

// Poll runs one poll tick: every decodable entry in the mailbox yields
// exactly one buildset. Malformed entries are reported through the
// returned error and do not stop the remaining entries from being
// processed.
func (s *JobdirScheduler) Poll() error {
	jobs, err := s.mbox.Poll()

	for _, j := range jobs {
		names := s.filterBuilders(j.BuilderNames)
		if len(names) == 0 {
			s.log.Warn("job names no configured builders, skipping",
				"job", j.ID, "builders", j.BuilderNames)
			continue
		}

		bs, cerr := s.store.CreateBuildset(j.SourceStamp, names, j.Comment)
		if cerr != nil {
			s.log.Error("cannot create buildset", "job", j.ID, "err", cerr)
			continue
		}
		s.log.Info("buildset created", "job", j.ID, "buildset", bs.ID, "builders", names)
	}

	return err
}

// filterBuilders keeps the requested names that appear in the scheduler's
// whitelist, preserving request order.
func (s *JobdirScheduler) filterBuilders(requested []string) []string {
	var out []string
	for _, name := range requested {
		for _, known := range s.builderNames {
			if name == known {
				out = append(out, name)
				break
			}
		}
	}
	return out
}
