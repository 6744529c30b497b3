package types

// BuildStatus is the per-builder state of a build request, as reported by
// the build engine.
type BuildStatus string

const (
	StatusPending   BuildStatus = "pending"
	StatusRunning   BuildStatus = "running"
	StatusSuccess   BuildStatus = "success"
	StatusFailure   BuildStatus = "failure"
	StatusException BuildStatus = "exception"
)

// Terminal reports whether s is a final state.
func (s BuildStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusException:
		return true
	}
	return false
}

// BuildEvent is a completion notification for a single builder of a
// buildset. It is the payload pushed to waiting clients.
type BuildEvent struct {
	Buildset string      `json:"buildset"`
	Builder  string      `json:"builder"`
	Status   BuildStatus `json:"status"`

	// Text is a short human-readable detail, e.g. "finished".
	Text string `json:"text"`
}
