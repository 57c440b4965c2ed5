// Package serialport opens the UART the appliance speaks over.
package serialport

import (
	"fmt"
	"io"
	"time"

	ser "go.bug.st/serial"
)

// Options configures a port. Zero DataBits means 8.
type Options struct {
	BaudRate    int
	DataBits    int
	ReadTimeout time.Duration
}

// Open opens the device at path in 8N1 mode with a bounded read timeout, so
// a Read with no pending data returns (0, nil). It's a variable so tests
// can replace it.
var Open = func(path string, opts Options) (io.ReadWriteCloser, error) {
	dataBits := opts.DataBits
	if dataBits == 0 {
		dataBits = 8
	}
	mode := &ser.Mode{
		BaudRate: opts.BaudRate,
		Parity:   ser.NoParity,
		DataBits: dataBits,
		StopBits: ser.OneStopBit,
	}

	port, err := ser.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", path, err)
	}
	if opts.ReadTimeout > 0 {
		if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("set read timeout: %w", err)
		}
	}
	return port, nil
}

// List returns the serial ports present on the host.
var List = func() ([]string, error) {
	ports, err := ser.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}
