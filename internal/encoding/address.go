package encoding

import "strings"

// ApplyDestinationPrefix rewrites a user-supplied destination name with the
// configured queue/topic prefix, mirroring qpid-jms's always-on address
// rewriting (JMSDestination.getAddress()). It is idempotent: a name that
// already carries the prefix is left alone.
func ApplyDestinationPrefix(name, prefix string) string {
	if prefix == "" || name == "" || strings.HasPrefix(name, prefix) {
		return name
	}
	return prefix + name
}

// StripDestinationPrefix removes a previously applied prefix, the inverse
// of ApplyDestinationPrefix.
func StripDestinationPrefix(address, prefix string) string {
	if prefix == "" {
		return address
	}
	return strings.TrimPrefix(address, prefix)
}
