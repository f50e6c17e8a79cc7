// Package config defines the connection option surface and an optional
// ini-backed loader for multiple named targets.
package config

import (
	"time"

	"github.com/go-nvmetcp/nvmetcp/pkg/identity"
)

// Options is the configuration surface recognised by Connect.
type Options struct {
	Host string
	Port int

	// SubsystemNQN defaults to the well-known discovery NQN when empty.
	SubsystemNQN string
	// HostNQN defaults to a freshly generated identity when empty.
	HostNQN string

	Timeout time.Duration
	KATO    time.Duration

	HeaderDigest bool
	DataDigest   bool

	QueueSize uint16
}

// DefaultPort is the default NVMe/TCP port, used unless overridden.
const DefaultPort = 4420

// DefaultDiscoveryPort is the conventional discovery port.
const DefaultDiscoveryPort = 8009

// WithDefaults returns a copy of o with zero-valued Port, SubsystemNQN,
// HostNQN, Timeout and QueueSize replaced by their default values.
func (o Options) WithDefaults() Options {
	out := o
	if out.Port == 0 {
		out.Port = DefaultPort
	}
	if out.SubsystemNQN == "" {
		out.SubsystemNQN = identity.DiscoveryNQN
	}
	if out.HostNQN == "" {
		out.HostNQN = identity.GenerateHostNQN()
	}
	if out.Timeout == 0 {
		out.Timeout = 30 * time.Second
	}
	if out.QueueSize == 0 {
		out.QueueSize = 32
	}
	// HeaderDigest/DataDigest are left as given: the handshake offers a
	// digest only when its field is true, so a zero Options offers
	// neither. LoadTargetsINI defaults both to true when the keys are
	// absent. The controller is free to decline either offer.
	return out
}

// Validate checks the option surface can actually be used to dial.
func (o Options) Validate() error {
	if o.Host == "" {
		return ErrHostRequired
	}
	return nil
}
