package types

import "fmt"

// ErrMalformedJob indicates that an encoded job could not be decoded. The
// entry that produced it is left untouched so the caller can inspect it.
type ErrMalformedJob struct {
	// File is the mailbox entry the job was read from, if any.
	File   string
	Reason string
}

func (e ErrMalformedJob) Error() string {
	if e.File == "" {
		return fmt.Sprintf("malformed job: %s", e.Reason)
	}
	return fmt.Sprintf("malformed job '%s': %s", e.File, e.Reason)
}

// ErrAuthentication indicates that a connection attempt was rejected
// before any operation was accepted.
type ErrAuthentication struct {
	User string
}

func (e ErrAuthentication) Error() string {
	return fmt.Sprintf("authentication failed for user '%s'", e.User)
}

// ErrUnknownBuilder indicates a submission naming a builder outside the
// scheduler's configured whitelist.
type ErrUnknownBuilder struct {
	Builder string
}

func (e ErrUnknownBuilder) Error() string {
	return fmt.Sprintf("unknown builder '%s'", e.Builder)
}
