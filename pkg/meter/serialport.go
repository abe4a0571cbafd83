package meter

import (
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// SerialPort is the Transport backed by a real serial device.
type SerialPort struct {
	cfg  Config
	port serial.Port
}

var _ Transport = (*SerialPort)(nil)

// NewSerialPort returns an unopened serial transport for cfg.
func NewSerialPort(cfg Config) *SerialPort {
	return &SerialPort{cfg: cfg}
}

func (s *SerialPort) Open() error {
	mode := &serial.Mode{
		BaudRate: s.cfg.BaudRate,
		DataBits: s.cfg.DataBits,
	}

	switch s.cfg.Parity {
	case ParityOdd:
		mode.Parity = serial.OddParity
	case ParityEven:
		mode.Parity = serial.EvenParity
	case ParityNone, "":
		mode.Parity = serial.NoParity
	default:
		return pkgerrors.Errorf("unknown parity %q", s.cfg.Parity)
	}

	switch s.cfg.StopBits {
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}

	port, err := serial.Open(s.cfg.Device, mode)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open serial device %s", s.cfg.Device)
	}
	s.port = port

	logrus.WithFields(logrus.Fields{
		"device": s.cfg.Device,
		"baud":   s.cfg.BaudRate,
		"parity": s.cfg.Parity,
	}).Info("serial port opened")

	return nil
}

func (s *SerialPort) Close() error {
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return pkgerrors.Wrapf(err, "failed to close serial device %s", s.cfg.Device)
}

func (s *SerialPort) Write(p []byte) error {
	if s.port == nil {
		return pkgerrors.New("serial port not open")
	}
	if _, err := s.port.Write(p); err != nil {
		return pkgerrors.Wrapf(err, "failed to write to serial device %s", s.cfg.Device)
	}
	return nil
}

func (s *SerialPort) Read(timeout time.Duration) ([]byte, error) {
	if s.port == nil {
		return nil, pkgerrors.New("serial port not open")
	}
	if err := s.port.SetReadTimeout(timeout); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to set read timeout")
	}

	buf := make([]byte, 256)
	n, err := s.port.Read(buf)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to read from serial device %s", s.cfg.Device)
	}
	if n == 0 {
		// go.bug.st/serial signals an expired read timeout with n == 0.
		return nil, ErrReadTimeout
	}
	return buf[:n], nil
}
