package types

// ConnectMethod indicates how the try client delivers jobs to the master.
type ConnectMethod string

const (
	// Pb delivers jobs over the authenticated network connection of the
	// userpass scheduler. It is the only method that supports waiting
	// for build results.
	Pb ConnectMethod = "pb"

	// Ssh delivers jobs by writing files into the jobdir mailbox of the
	// jobdir scheduler.
	Ssh ConnectMethod = "ssh"
)
