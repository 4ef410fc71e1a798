// Copyright (c) 2024 The ldsweep developers. All rights reserved.
// Project site: https://github.com/gotmc/ldsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ldsweep

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultReadTimeoutMS is the Prologix read timeout configured at startup.
const DefaultReadTimeoutMS = 500

// Controller models a Prologix (or AR488) GPIB controller-in-charge talking
// to one instrument. It implements Transport, so the sweeper can drive a
// GPIB instrument exactly like a USBTMC or socket instrument.
type Controller struct {
	rw               io.ReadWriter
	r                *bufio.Reader
	primaryAddr      int
	hasSecondaryAddr bool
	secondaryAddr    int
	usbTerm          byte
	eot              bool
	eotChar          byte
	readTimeoutMS    int
	writeDelay       time.Duration
	ar488            bool // compatibility with Arduino AR488 - see WithAR488 documentation for details.
	logger           *log.Logger
}

// ControllerOption applies an option to the controller.
type ControllerOption func(*Controller)

// NewController creates a GPIB controller-in-charge at the given address
// using the given serial connection to the Prologix adapter. Enable clear to
// send the Selected Device Clear (SDC) message to the GPIB address.
func NewController(
	rw io.ReadWriter,
	addr int,
	clear bool,
	opts ...ControllerOption,
) (*Controller, error) {
	c := Controller{
		rw:            rw,
		r:             bufio.NewReader(rw),
		primaryAddr:   addr,
		usbTerm:       '\n',
		eotChar:       '\n',
		readTimeoutMS: DefaultReadTimeoutMS,
		logger:        log.Default(),
	}

	for _, opt := range opts {
		opt(&c)
	}

	if !isPrimaryAddressValid(c.primaryAddr) {
		return nil, fmt.Errorf("invalid primary address %d (must be 0-30)", c.primaryAddr)
	}

	addrCmd := fmt.Sprintf("addr %d", c.primaryAddr)
	if c.hasSecondaryAddr {
		if !isSecondaryAddressValid(c.secondaryAddr) {
			return nil, fmt.Errorf("invalid secondary address %d (must be 96-126)", c.secondaryAddr)
		}
		addrCmd = fmt.Sprintf("addr %d %d", c.primaryAddr, c.secondaryAddr)
	}
	cmds := []string{}
	if !c.ar488 {
		cmds = append(cmds,
			"verbose 0", // turn off verbosity if on
			"savecfg 0", // Disable saving of configuration parameters in EPROM
		)
	}
	cmds = append(cmds,
		addrCmd,  // Set the primary address.
		"mode 1", // Switch to controller mode.
		"auto 0", // Turn off read-after-write and address instrument to listen.
		"eoi 1",  // Enable EOI assertion with last character.
		"eos 0",  // Set GPIB termination.
		fmt.Sprintf("read_tmo_ms %d", c.readTimeoutMS),
		fmt.Sprintf("eot_char %d", c.eotChar),
		fmt.Sprintf("eot_enable %d", btoi(c.eot)), // Append eot_char when EOI detected.
	)
	if !c.ar488 {
		cmds = append(cmds, "savecfg 1")
	}
	for _, cmd := range cmds {
		if err := c.CommandController(cmd); err != nil {
			return nil, err
		}
	}
	if clear {
		if err := c.ClearDevice(); err != nil {
			return nil, err
		}
	}

	return &c, nil
}

// WithSecondaryAddress sets a secondary address, which must be in the range of
// 96 and 126, inclusive.
func WithSecondaryAddress(addr int) ControllerOption {
	return func(c *Controller) {
		c.hasSecondaryAddr = true
		c.secondaryAddr = addr
	}
}

// WithAR488 slightly alters the init commands, for compatibility with the
// Arduino-based AR488. Specifically, we do not emit 'verbose 0', nor do
// we toggle savecfg.
func WithAR488() ControllerOption { return func(c *Controller) { c.ar488 = true } }

// WithEOT makes the controller append eot_char to every reply that ends with
// EOI. Enable it for instruments whose replies carry no LF of their own.
// A reply that already ends in LF then arrives with a second one, which
// ReadLine discards.
func WithEOT(enable bool) ControllerOption { return func(c *Controller) { c.eot = enable } }

// WithReadTimeout sets the controller's GPIB read timeout in milliseconds.
func WithReadTimeout(ms int) ControllerOption {
	return func(c *Controller) { c.readTimeoutMS = ms }
}

// WithWriteDelay pauses after every write. Some adapters drop commands that
// arrive back to back.
func WithWriteDelay(d time.Duration) ControllerOption {
	return func(c *Controller) { c.writeDelay = d }
}

// WithControllerLogger sets the logger used for controller commands.
func WithControllerLogger(l *log.Logger) ControllerOption {
	return func(c *Controller) { c.logger = l }
}

// Send writes one instrument command to the currently assigned GPIB address.
// All leading and trailing whitespace is removed before appending the USB
// terminator.
func (c *Controller) Send(p []byte) error {
	return c.write(fmt.Sprintf("%s%c", strings.TrimSpace(string(p)), c.usbTerm))
}

// ReadLine tells the controller to read until EOI and returns the reply.
// With EOT enabled, a bare eot_char left over from the previous reply is
// skipped.
func (c *Controller) ReadLine() (string, error) {
	if err := c.write(fmt.Sprintf("++read eoi%c", c.usbTerm)); err != nil {
		return "", fmt.Errorf("error sending `++read eoi` command: %w", err)
	}
	s, err := c.r.ReadString(c.eotChar)
	if c.eot && err == nil && s == string(c.eotChar) {
		c.logger.Debug("dropping trailing eot_char")
		s, err = c.r.ReadString(c.eotChar)
	}
	if err == io.EOF && len(s) > 0 {
		c.logger.Debug("found EOF")
		return s, nil
	}
	return s, err
}

// QueryController sends the given command to the Prologix controller and
// returns its response as a string. To indicate this is a command for the
// Prologix controller, thereby not transmitting over GPIB, two plus signs `++`
// are prepended.
func (c *Controller) QueryController(cmd string) (string, error) {
	if err := c.CommandController(cmd); err != nil {
		return "", err
	}
	s, err := c.r.ReadString(c.eotChar)
	c.logger.Debug("controller response", "data", s)
	return s, err
}

// CommandController sends the given command to the Prologix controller. To
// indicate this is a command for the Prologix controller, thereby not
// transmitting to the instrument over GPIB, two plus signs `++` are prepended.
func (c *Controller) CommandController(cmd string) error {
	return c.write(fmt.Sprintf("++%s%c", strings.ToLower(strings.TrimSpace(cmd)), c.usbTerm))
}

// ClearDevice sends the Selected Device Clear (SDC) message.
func (c *Controller) ClearDevice() error { return c.CommandController("clr") }

// FrontPanel returns the instrument to local front panel control when local
// is true.
func (c *Controller) FrontPanel(local bool) error {
	if !local {
		return nil
	}
	return c.CommandController("loc")
}

// Version returns the controller's version string.
func (c *Controller) Version() (string, error) {
	s, err := c.QueryController("ver")
	return strings.TrimSpace(s), err
}

func (c *Controller) write(cmd string) error {
	c.logger.Debug("prologix write", "cmd", fmt.Sprintf("%q", cmd))
	_, err := c.rw.Write([]byte(cmd))
	if c.writeDelay > 0 {
		time.Sleep(c.writeDelay)
	}
	return err
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isPrimaryAddressValid checks that the primary GPIB address is between 0 and
// 30, inclusive.
func isPrimaryAddressValid(addr int) bool {
	return addr >= 0 && addr <= 30
}

// isSecondaryAddressValid checks that the secondary GPIB address is between 96
// and 126, inclusive.
func isSecondaryAddressValid(addr int) bool {
	return addr >= 96 && addr <= 126
}
