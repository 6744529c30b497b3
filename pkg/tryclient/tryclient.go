// Package tryclient builds a try job out of local state and delivers it to
// a master scheduler over the chosen connect method, optionally waiting
// for the resulting builds to finish.
package tryclient

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/buildmill/tryd/pkg/types"
)

// Config is the delivery configuration of a single client invocation.
type Config struct {
	// Connect selects the delivery path: types.Pb or types.Ssh.
	Connect types.ConnectMethod

	// Master is the host:port of the userpass scheduler (pb only).
	Master string

	// Username and Password authenticate the pb connection.
	Username string
	Password string

	// Jobdir is the mailbox root written to over ssh.
	Jobdir string

	// Wait blocks the run until all builds reach a terminal status,
	// when the connect method supports it.
	Wait bool

	// GetBuilderNames lists the available builders instead of
	// delivering a job.
	GetBuilderNames bool

	// Timeout bounds a single network operation, including the whole
	// wait for build results. Zero means no limit.
	Timeout time.Duration
}

// Try is one client invocation: it delivers a job (or a builder-list
// query) and reports progress as fixed-order lines on its output writer.
type Try struct {
	cfg  Config
	job  *types.Job
	out  io.Writer
	conn connector
}

// New returns a Try for the given configuration and job. out receives the
// progress lines; pass nil for os.Stdout. The job may be nil when
// cfg.GetBuilderNames is set.
func New(cfg Config, job *types.Job, out io.Writer) (*Try, error) {
	if out == nil {
		out = os.Stdout
	}

	t := &Try{cfg: cfg, job: job, out: out}

	switch cfg.Connect {
	case types.Pb:
		if cfg.Master == "" {
			return nil, fmt.Errorf("the pb connect method needs a master address")
		}
		t.conn = newPbConnector(cfg)
	case types.Ssh:
		if cfg.Jobdir == "" {
			return nil, fmt.Errorf("the ssh connect method needs a jobdir")
		}
		t.conn = &sshConnector{jobdir: cfg.Jobdir}
	default:
		return nil, fmt.Errorf("unknown connect method '%s'", cfg.Connect)
	}

	return t, nil
}

// Run executes the invocation: exactly one of submit-job or list-builders
// is issued, then the configured wait behaviour is applied. Errors abort
// the run; there is no implicit retry.
func (t *Try) Run(ctx context.Context) error {
	t.output("using '%s' connect method", t.cfg.Connect)

	if t.cfg.GetBuilderNames {
		return t.listBuilders(ctx)
	}

	if t.job == nil {
		return fmt.Errorf("no job to deliver")
	}
	err := t.job.Validate()
	if err != nil {
		return err
	}
	t.output("job created")

	if t.cfg.Connect == types.Pb {
		t.output("Delivering job; comment= %s", commentOrNone(t.job.Comment))
	}

	buildsetID, err := t.conn.deliver(ctx, t.job)
	if err != nil {
		return err
	}
	t.output("job has been delivered")

	if !t.cfg.Wait {
		t.output("not waiting for builds to finish")
		return nil
	}

	if !t.conn.supportsWait() {
		t.output("waiting for builds with %s is not supported", t.cfg.Connect)
		return nil
	}

	results, err := t.waitForBuilds(ctx, buildsetID)
	if err != nil {
		return err
	}

	t.output("All Builds Complete")
	for _, name := range t.job.BuilderNames {
		res := results[name]
		t.output("%s: %s (%s)", name, res.Status, res.Text)
	}
	return nil
}

func (t *Try) listBuilders(ctx context.Context) error {
	names, err := t.conn.listBuilders(ctx)
	if err != nil {
		return err
	}
	t.output("The following builders are available for the try scheduler: ")
	for _, name := range names {
		t.output("%s", name)
	}
	return nil
}

func (t *Try) output(format string, args ...interface{}) {
	fmt.Fprintf(t.out, format+"\n", args...)
}

// commentOrNone renders an absent comment the way the status lines expect.
func commentOrNone(comment string) string {
	if comment == "" {
		return "None"
	}
	return comment
}
