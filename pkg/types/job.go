package types

import "errors"

// Patch is a unified diff to be applied on top of the source stamp's
// revision before building.
type Patch struct {
	// Level is the -p argument the patch should be applied with.
	Level int

	// Body is the unified diff text.
	Body string
}

// SourceStamp identifies the tree a job should be built against. A job
// always carries a source identity, even when Patch is nil (build the
// revision as-is).
type SourceStamp struct {
	Branch   string
	Revision string
	Patch    *Patch
}

// Job is the unit of work a try client submits to a scheduler: a source
// stamp, the builders that should build it and an optional comment that
// ends up on the resulting buildset. A Job is immutable once created.
type Job struct {
	ID string

	SourceStamp

	// BuilderNames is the ordered set of builders the job targets.
	BuilderNames []string

	Comment string
}

// Validate returns an error if j cannot be delivered to a scheduler.
func (j *Job) Validate() error {
	if j.ID == "" {
		return errors.New("job has no id")
	}
	if j.Revision == "" {
		return errors.New("job has no revision")
	}
	if len(j.BuilderNames) == 0 {
		return errors.New("job has no builders")
	}
	for _, b := range j.BuilderNames {
		if b == "" {
			return errors.New("job has an empty builder name")
		}
	}
	return nil
}
