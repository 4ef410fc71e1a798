// Package connutil opens instrument transports described by config.
package connutil

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gotmc/ldsweep"
	"github.com/gotmc/ldsweep/lib/cmdlog"
	"github.com/gotmc/ldsweep/lib/config"
	"github.com/gotmc/ldsweep/lib/find"
	"go.bug.st/serial"
	"go.uber.org/multierr"
)

// ErrReadTimeout is returned when an instrument stays silent past its
// configured timeout.
var ErrReadTimeout = errors.New("read timeout")

// Find locates the serial port for an "auto" Prologix address. It is a
// variable so that discovery can be replaced.
var Find = func() (string, error) {
	return find.Find(find.AnyFilter(find.PrologixFilter, find.ArduinoFilter))
}

// Open connects to the instrument described by cfg. name labels the
// instrument in logs and errors. When logger is at debug level, every
// command and response is traced. The cleanup func releases the connection
// and must be called once the instrument is no longer needed.
func Open(name string, cfg config.InstrumentConfig, logger *log.Logger) (t ldsweep.Transport, cleanup func() error, err error) {
	switch cfg.Kind {
	case config.KindPrologix:
		t, cleanup, err = openPrologix(cfg, logger)
	case config.KindUSBTMC:
		t, cleanup, err = openUSBTMC(cfg)
	case config.KindTCP:
		t, cleanup, err = openTCP(cfg)
	default:
		return nil, nil, fmt.Errorf("%s: unsupported instrument kind %q", name, cfg.Kind)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", name, err)
	}
	logger.Info("instrument connected", "instrument", name, "kind", cfg.Kind, "address", cfg.Address)
	if logger.GetLevel() <= log.DebugLevel {
		t = cmdlog.Trace(name, t, logger)
	}
	return t, cleanup, nil
}

func openPrologix(cfg config.InstrumentConfig, logger *log.Logger) (ldsweep.Transport, func() error, error) {
	dev := cfg.Address
	if dev == config.AutoAddress {
		var err error
		dev, err = Find()
		if err != nil {
			return nil, nil, fmt.Errorf("locating serial port failed: %w", err)
		}
	}
	logger.Info("opening serial port", "port", dev, "baud", cfg.Baud)

	port, err := serial.Open(dev, &serial.Mode{BaudRate: cfg.Baud})
	if err != nil {
		return nil, nil, err
	}
	if cfg.Timeout > 0 {
		if err := port.SetReadTimeout(cfg.Timeout); err != nil {
			port.Close()
			return nil, nil, err
		}
	}

	opts := []ldsweep.ControllerOption{
		ldsweep.WithReadTimeout(int(cfg.ReadTimeout / time.Millisecond)),
		ldsweep.WithEOT(cfg.EOT),
		ldsweep.WithControllerLogger(logger),
	}
	if cfg.WriteDelay > 0 {
		opts = append(opts, ldsweep.WithWriteDelay(cfg.WriteDelay))
	}
	if cfg.GPIBSAD != config.NoSecondaryAddress {
		opts = append(opts, ldsweep.WithSecondaryAddress(cfg.GPIBSAD))
	}
	if cfg.AR488 {
		opts = append(opts, ldsweep.WithAR488())
	}

	gpib, err := ldsweep.NewController(serialPort{port}, cfg.GPIBAddr, cfg.Clear, opts...)
	if err != nil {
		port.Close()
		return nil, nil, err
	}

	cleanup := func() error {
		// Return local control to the front panel, then discard any unread
		// data before closing.
		err := gpib.FrontPanel(true)
		if err != nil {
			err = fmt.Errorf("setting local control for front panel: %w", err)
		}
		return multierr.Combine(err, port.ResetInputBuffer(), port.Close())
	}
	return gpib, cleanup, nil
}

// serialPort reports a read that ends without data as a timeout, where
// go.bug.st/serial returns (0, nil).
type serialPort struct {
	serial.Port
}

func (p serialPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n == 0 && err == nil && len(b) > 0 {
		return 0, ErrReadTimeout
	}
	return n, err
}

func openUSBTMC(cfg config.InstrumentConfig) (ldsweep.Transport, func() error, error) {
	f, err := os.OpenFile(cfg.Address, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, err
	}
	c := ldsweep.NewConn(f)
	return c, c.Close, nil
}

func openTCP(cfg config.InstrumentConfig) (ldsweep.Transport, func() error, error) {
	conn, err := net.DialTimeout("tcp", cfg.Address, cfg.Timeout)
	if err != nil {
		return nil, nil, err
	}
	c := ldsweep.NewConn(deadlineConn{conn, cfg.Timeout})
	return c, c.Close, nil
}

// deadlineConn bounds every read and write by timeout.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (d deadlineConn) Read(b []byte) (int, error) {
	if d.timeout > 0 {
		if err := d.Conn.SetReadDeadline(time.Now().Add(d.timeout)); err != nil {
			return 0, err
		}
	}
	return d.Conn.Read(b)
}

func (d deadlineConn) Write(b []byte) (int, error) {
	if d.timeout > 0 {
		if err := d.Conn.SetWriteDeadline(time.Now().Add(d.timeout)); err != nil {
			return 0, err
		}
	}
	return d.Conn.Write(b)
}
