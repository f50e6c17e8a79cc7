package session

// State is one node of the connection lifecycle. Transitions are
// one-directional except for the terminal Closed -> TcpConnected arc
// that a fresh Connect call starts from scratch.
type State uint8

const (
	// Closed is the initial state and the state reached after
	// disconnect or after draining a Failing connection.
	Closed State = iota
	// TcpConnected means the TCP socket is up but ICReq/ICResp has not
	// completed.
	TcpConnected
	// IcComplete means ICReq/ICResp succeeded; Fabric Connect has not
	// run yet.
	IcComplete
	// AdminReady means Fabric Connect succeeded; capability/version
	// properties have not been read yet.
	AdminReady
	// Active means the connection accepts Admin and I/O commands.
	Active
	// Failing means a fatal protocol or transport error occurred;
	// every outstanding slot is being failed before the socket closes.
	Failing
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case TcpConnected:
		return "tcp-connected"
	case IcComplete:
		return "ic-complete"
	case AdminReady:
		return "admin-ready"
	case Active:
		return "active"
	case Failing:
		return "failing"
	default:
		return "unknown"
	}
}
