// Package identity derives the NQN and host-identifier values the
// session handshake needs.
package identity

import (
	"crypto/sha256"

	"github.com/google/uuid"
)

// DiscoveryNQN is the well-known subsystem NQN used for discovery
// controllers when the caller does not specify a target subsystem.
const DiscoveryNQN = "nqn.2014-08.org.nvmexpress.discovery"

// MaxNQNLen is the maximum content length of an NQN string per the NVMe
// base specification (the wire field itself is padded to 256 bytes).
const MaxNQNLen = 223

// GenerateHostNQN returns a fresh, randomly generated host NQN of the
// form "nqn.2014-08.org.nvmexpress:uuid:<uuid>", used as the default
// host identity when the caller does not supply one.
func GenerateHostNQN() string {
	return "nqn.2014-08.org.nvmexpress:uuid:" + uuid.New().String()
}

// HostID derives the 128-bit host identifier deterministically from the
// host NQN: the first 16 bytes of SHA-256(hostNQN). This makes the
// identifier stable across reconnects using the same host NQN without
// requiring the caller to persist anything.
func HostID(hostNQN string) [16]byte {
	sum := sha256.Sum256([]byte(hostNQN))
	var id [16]byte
	copy(id[:], sum[:16])
	return id
}
