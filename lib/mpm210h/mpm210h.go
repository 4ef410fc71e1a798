// Package mpm210h drives a Santec MPM-210H multi-port optical power meter
// over its TCP command socket.
package mpm210h

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gotmc/ldsweep"
	"github.com/gotmc/query"
)

// Hardware timing. The command delay is required by the instrument after
// every transmission.
const (
	DefaultTimeout      = 5 * time.Second
	DefaultCommandDelay = 10 * time.Millisecond
	DefaultZeroDelay    = 3 * time.Second
)

// Name identifies the power meter in transport errors.
const Name = "MPM-210H"

var (
	ErrInvalidInput = errors.New("mpm210h: invalid input")
	ErrInvalidData  = errors.New("mpm210h: invalid data")
	ErrConnection   = errors.New("mpm210h: connection failed")
)

// PowerUnit is the unit of power readings.
type PowerUnit int

// Available power units.
const (
	DBm PowerUnit = iota
	MW
)

func (u PowerUnit) String() string {
	switch u {
	case DBm:
		return "dBm"
	case MW:
		return "mW"
	default:
		return fmt.Sprintf("PowerUnit(%d)", int(u))
	}
}

// ParsePowerUnit accepts "dBm" or "mW", case insensitively.
func ParsePowerUnit(s string) (PowerUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dbm":
		return DBm, nil
	case "mw":
		return MW, nil
	}
	return 0, fmt.Errorf("%w: power unit %q", ErrInvalidInput, s)
}

// Mode is a measurement mode.
type Mode string

// Measurement modes accepted by WMOD.
const (
	Const1  Mode = "CONST1"
	Const2  Mode = "CONST2"
	Sweep1  Mode = "SWEEP1"
	Sweep2  Mode = "SWEEP2"
	FreeRun Mode = "FREERUN"
)

var modes = []Mode{Const1, Const2, Sweep1, Sweep2, FreeRun}

// ParseMode accepts a measurement mode name, case insensitively.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	if !slices.Contains(modes, m) {
		return "", fmt.Errorf("%w: measurement mode %q", ErrInvalidInput, s)
	}
	return m, nil
}

// Driver is a connection to one MPM-210H. It is not safe for concurrent use.
type Driver struct {
	conn      net.Conn
	r         *bufio.Reader
	module    int
	port      int
	timeout   time.Duration
	cmdDelay  time.Duration
	zeroDelay time.Duration
	sleep     func(time.Duration)
	logger    *log.Logger
}

// Option applies an option to a Driver.
type Option func(*Driver)

// WithTimeout sets the read and write timeout of every exchange. Zero
// disables it.
func WithTimeout(d time.Duration) Option { return func(d2 *Driver) { d2.timeout = d } }

// WithCommandDelay sets the pause after every transmission.
func WithCommandDelay(d time.Duration) Option { return func(d2 *Driver) { d2.cmdDelay = d } }

// WithZeroDelay sets how long Zero waits for the instrument to settle.
func WithZeroDelay(d time.Duration) Option { return func(d2 *Driver) { d2.zeroDelay = d } }

// WithSleeper replaces time.Sleep for the command and zero delays.
func WithSleeper(f func(time.Duration)) Option { return func(d *Driver) { d.sleep = f } }

// WithLogger sets the driver's logger.
func WithLogger(l *log.Logger) Option { return func(d *Driver) { d.logger = l } }

// Connect dials the power meter at address (host:port) and confirms it
// answers an identity query.
func Connect(address string, opts ...Option) (*Driver, error) {
	d := newDriver(nil, opts)
	conn, err := net.DialTimeout("tcp", address, d.timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConnection, err)
	}
	return New(conn, opts...)
}

// New wraps an established connection and confirms the instrument answers
// an identity query. The connection is closed if it does not.
func New(conn net.Conn, opts ...Option) (*Driver, error) {
	d := newDriver(conn, opts)
	idn, err := d.Identity()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %s", ErrConnection, err)
	}
	d.logger.Info("connected", "instrument", Name, "idn", idn)
	return d, nil
}

func newDriver(conn net.Conn, opts []Option) *Driver {
	d := &Driver{
		conn:      conn,
		port:      1,
		timeout:   DefaultTimeout,
		cmdDelay:  DefaultCommandDelay,
		zeroDelay: DefaultZeroDelay,
		sleep:     time.Sleep,
		logger:    log.Default(),
	}
	if conn != nil {
		d.r = bufio.NewReader(conn)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Module returns the selected module.
func (d *Driver) Module() int { return d.module }

// Port returns the selected port.
func (d *Driver) Port() int { return d.port }

// SetModule selects the module (0-4) used by later commands.
func (d *Driver) SetModule(module int) error {
	if module < 0 || module > 4 {
		return fmt.Errorf("%w: module number must be between 0 and 4, got %d", ErrInvalidInput, module)
	}
	d.module = module
	return nil
}

// SetPort selects the port (1-4) used by later commands.
func (d *Driver) SetPort(port int) error {
	if port < 1 || port > 4 {
		return fmt.Errorf("%w: port number must be between 1 and 4, got %d", ErrInvalidInput, port)
	}
	d.port = port
	return nil
}

// SetWavelength sets the calibration wavelength (1250-1630 nm) of the
// selected module and port.
func (d *Driver) SetWavelength(nm float64) error {
	if !(nm >= 1250 && nm <= 1630) {
		return fmt.Errorf("%w: wavelength must be between 1250 and 1630 nm, got %g", ErrInvalidInput, nm)
	}
	return d.Command(fmt.Sprintf("DWAV %d,%d,%.3f", d.module, d.port, nm))
}

// SetMeasurementMode sets the measurement mode.
func (d *Driver) SetMeasurementMode(mode Mode) error {
	if !slices.Contains(modes, mode) {
		return fmt.Errorf("%w: invalid measurement mode %q", ErrInvalidInput, mode)
	}
	return d.Command("WMOD " + string(mode))
}

// SetAveragingTime sets the averaging time (0.01-10000 ms).
func (d *Driver) SetAveragingTime(ms float64) error {
	if !(ms >= 0.01 && ms <= 10000) {
		return fmt.Errorf("%w: averaging time must be between 0.01 and 10000 ms, got %g", ErrInvalidInput, ms)
	}
	return d.Command(fmt.Sprintf("AVG %.2f", ms))
}

// SetPowerUnit selects dBm or mW readings.
func (d *Driver) SetPowerUnit(u PowerUnit) error {
	switch u {
	case DBm:
		return d.Command("UNIT 0")
	case MW:
		return d.Command("UNIT 1")
	}
	return fmt.Errorf("%w: power unit %d", ErrInvalidInput, int(u))
}

// Zero starts a zero calibration and waits for it to settle. The wait
// happens whether or not the instrument replies.
func (d *Driver) Zero() error {
	d.logger.Info("performing zero calibration", "instrument", Name)
	if err := d.Command("ZERO"); err != nil {
		return err
	}
	d.sleep(d.zeroDelay)
	return nil
}

// ReadPower reads all ports of the selected module and returns the selected
// port's power in the configured unit.
func (d *Driver) ReadPower() (float64, error) {
	resp, err := query.String(d, fmt.Sprintf("READ? %d", d.module))
	if err != nil {
		return 0, err
	}
	resp = strings.TrimSpace(resp)
	powers := strings.Split(resp, ",")
	if len(powers) < d.port {
		return 0, fmt.Errorf("%w: response %q has no port %d", ErrInvalidData, resp, d.port)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(powers[d.port-1]), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to parse power value: %s", ErrInvalidData, err)
	}
	return v, nil
}

// Identity returns the instrument's *IDN? response.
func (d *Driver) Identity() (string, error) {
	s, err := query.String(d, "*IDN?")
	return strings.TrimSpace(s), err
}

// CheckErrors returns the instrument's error queue response.
func (d *Driver) CheckErrors() (string, error) {
	s, err := query.String(d, "ERR?")
	return strings.TrimSpace(s), err
}

// Command sends cmd, LF terminated, and waits the command delay.
func (d *Driver) Command(cmd string) error {
	if err := d.conn.SetWriteDeadline(d.deadline()); err != nil {
		return &ldsweep.TransportError{Instrument: Name, Op: "write", Cmd: cmd, Err: err}
	}
	if _, err := d.conn.Write([]byte(cmd + "\n")); err != nil {
		return &ldsweep.TransportError{Instrument: Name, Op: "write", Cmd: cmd, Err: err}
	}
	d.sleep(d.cmdDelay)
	return nil
}

// Query sends cmd and reads one response line.
func (d *Driver) Query(cmd string) (string, error) {
	if err := d.Command(cmd); err != nil {
		return "", err
	}
	if err := d.conn.SetReadDeadline(d.deadline()); err != nil {
		return "", &ldsweep.TransportError{Instrument: Name, Op: "read", Cmd: cmd, Err: err}
	}
	s, err := d.r.ReadString('\n')
	if err != nil {
		return s, &ldsweep.TransportError{Instrument: Name, Op: "read", Cmd: cmd, Err: err}
	}
	return s, nil
}

func (d *Driver) deadline() time.Time {
	if d.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(d.timeout)
}

// Close closes the connection.
func (d *Driver) Close() error { return d.conn.Close() }
