package meter

import "time"

// Transport is one exclusive serial channel to the measurement device. The
// acquirer is the only user of a Transport; implementations do not need to
// be goroutine-safe.
type Transport interface {
	Open() error
	Close() error

	// Write sends raw bytes to the device.
	Write(p []byte) error

	// Read returns the next chunk of bytes from the device, waiting at most
	// timeout for something to arrive. It returns ErrReadTimeout when the
	// device stayed silent.
	Read(timeout time.Duration) ([]byte, error)
}

// Parity of the serial link.
type Parity string

const (
	ParityNone Parity = "none"
	ParityOdd  Parity = "odd"
	ParityEven Parity = "even"
)

// Config describes the serial link of the supported device class.
type Config struct {
	Device   string `json:"device"`
	BaudRate int    `json:"baudRate"`
	Parity   Parity `json:"parity"`
	DataBits int    `json:"dataBits"`
	StopBits int    `json:"stopBits"`
}

// DefaultConfig is the link configuration of the supported multimeter.
func DefaultConfig(device string) Config {
	return Config{
		Device:   device,
		BaudRate: 9600,
		Parity:   ParityNone,
		DataBits: 8,
		StopBits: 1,
	}
}
