package amqp

import "github.com/google/uuid"

// linkName returns name if the caller supplied one, otherwise a fresh
// unique name, matching the teacher's "random link name when unset"
// behavior but grounded on google/uuid instead of a hand-rolled random
// string generator (spec.md's domain-stack expansion wires in uuid for
// every identifier the engine must mint: container IDs, link names,
// transaction global IDs).
func linkName(prefix, name string) string {
	if name != "" {
		return name
	}
	return prefix + "-" + uuid.NewString()
}
