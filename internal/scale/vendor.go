package scale

// StateCode is a connection state notification from the vendor library.
type StateCode int

// State codes delivered through Sink.OnState. Vendor bindings translate
// their native codes into these.
const (
	StateCodeUnknown StateCode = iota
	StateCodeConnected
	StateCodeDisconnected
	StateCodeReceiveTimeout
)

// String returns a short name for logging.
func (c StateCode) String() string {
	switch c {
	case StateCodeConnected:
		return "connected"
	case StateCodeDisconnected:
		return "disconnected"
	case StateCodeReceiveTimeout:
		return "receive_timeout"
	default:
		return "unknown"
	}
}

// Default connection parameters for CL-series scales.
const (
	DefaultPort       uint16 = 20304
	DefaultModel      uint16 = 5500
	DefaultTimeoutMs  uint16 = 3000
	DefaultRetryCount uint16 = 3
)

// ConnectionConfig describes one scale connection for AddConnection.
type ConnectionConfig struct {
	Address    string
	Index      int16
	Port       uint16
	Model      uint16
	TimeoutMs  uint16
	RetryCount uint16
}

// Sink receives vendor callbacks. Implementations must return quickly and
// never block: the vendor invokes them on its own threads.
type Sink interface {
	// OnState reports a connection state change for address.
	OnState(address string, code StateCode)

	// OnReceive delivers a record echoed back by the scale at address.
	OnReceive(address string, payload []byte)
}

// Vendor is the subset of the scale vendor library used by the driver.
// Transport and interpreter registration happen when the binding is loaded.
type Vendor interface {
	// AddConnection registers a scale and the callbacks for it.
	AddConnection(cfg ConnectionConfig, sink Sink) error

	// Connect opens the connection to a previously added scale.
	Connect(address string, index int16) error

	// Disconnect closes the connection to a scale.
	Disconnect(address string, index int16) error

	// SendData sends one encoded record to a scale.
	SendData(address string, index int16, payload []byte) error
}
