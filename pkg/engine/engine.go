// Package engine runs the builds of a buildset. CommandEngine is the
// in-process stand-in for an external build engine: every builder maps to a
// shell command and its exit code decides the build result.
package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/buildmill/tryd/pkg/buildset"
	"github.com/buildmill/tryd/pkg/types"
)

// Recorder is the slice of the buildset store the engine writes results to.
type Recorder interface {
	RecordResult(id, builder string, status types.BuildStatus, text string) error
}

// CommandEngine executes each builder of a buildset as a shell command.
type CommandEngine struct {
	commands map[string]string
	rec      Recorder
	timeout  time.Duration
	log      *slog.Logger
}

// NewCommandEngine returns an engine running the given builder commands.
// timeout bounds a single build; zero means no limit.
func NewCommandEngine(commands map[string]string, rec Recorder, timeout time.Duration, logger *slog.Logger) *CommandEngine {
	return &CommandEngine{commands: commands, rec: rec, timeout: timeout, log: logger}
}

// Run executes all builders of bs and records a terminal result for each.
// Builders fan out concurrently from the single buildset; Run returns when
// all of them have finished. Suitable as a MemStore.OnCreate hook.
func (e *CommandEngine) Run(bs *buildset.Buildset) {
	var wg sync.WaitGroup
	for _, name := range bs.BuilderNames {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			e.runBuilder(bs.ID, name)
		}(name)
	}
	wg.Wait()
	e.log.Info("buildset complete", "buildset", bs.ID)
}

func (e *CommandEngine) runBuilder(id, name string) {
	command, ok := e.commands[name]
	if !ok {
		e.record(id, name, types.StatusException, "no command configured")
		return
	}

	e.record(id, name, types.StatusRunning, "building")

	ctx := context.Background()
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	switch {
	case err == nil:
		e.record(id, name, types.StatusSuccess, "finished")
	case ctx.Err() != nil:
		e.record(id, name, types.StatusException, "build timed out")
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			e.record(id, name, types.StatusFailure, "failed")
		} else {
			e.record(id, name, types.StatusException, err.Error())
		}
	}
	if out.Len() > 0 {
		e.log.Debug("build output", "buildset", id, "builder", name, "output", out.String())
	}
}

func (e *CommandEngine) record(id, name string, status types.BuildStatus, text string) {
	err := e.rec.RecordResult(id, name, status, text)
	if err != nil {
		e.log.Error("cannot record build result", "buildset", id, "builder", name, "err", err)
	}
}
