package gsmppp

import "time"

// Port is the serial channel to the modem. ReadTimeout returns 0, nil when
// nothing arrived before the timeout elapsed.
type Port interface {
	Write(p []byte) (int, error)
	ReadTimeout(p []byte, timeout time.Duration) (int, error)
	// Flush discards any input received but not yet read.
	Flush() error
	Close() error
}

// PortOpener opens the serial channel. It is called once by the worker.
type PortOpener func(device string, baud int) (Port, error)
