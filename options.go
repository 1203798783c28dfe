package acceptable

// Option configures a Listener at Bind time. Follows the functional-options
// pattern (the teacher repo's own config layer — see responder.Option in
// the pack's responder/options.go).
type Option func(*config)

type config struct {
	nonblocking     bool
	reusePort       bool
	mailboxCapacity int
}

func defaultConfig() config {
	return config{
		nonblocking:     false,
		reusePort:       false, // spec.md §9: left off by default, exposed as a knob
		mailboxCapacity: 1,     // spec.md §3: mailbox capacity 1
	}
}

// WithNonblocking controls whether Accept blocks waiting for a datagram
// (the default) or returns immediately with a timeout error when none is
// pending.
func WithNonblocking(nonblocking bool) Option {
	return func(c *config) { c.nonblocking = nonblocking }
}

// WithReusePort sets SO_REUSEPORT on the listener socket (and on every
// per-flow connected socket Accept creates), in addition to the
// always-on SO_REUSEADDR. Off by default; see spec.md §9.
func WithReusePort(reusePort bool) Option {
	return func(c *config) { c.reusePort = reusePort }
}

// WithMailboxCapacity overrides the early-packet mailbox capacity (default
// 1, per spec.md §3/§9). Values below 1 are treated as 1.
func WithMailboxCapacity(capacity int) Option {
	return func(c *config) {
		if capacity < 1 {
			capacity = 1
		}
		c.mailboxCapacity = capacity
	}
}
