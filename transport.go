// Copyright (c) 2024 The ldsweep developers. All rights reserved.
// Project site: https://github.com/gotmc/ldsweep
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package ldsweep

import (
	"bufio"
	"io"
)

// Transport is a duplex, line-oriented channel to a single instrument. Send
// transmits one complete command, terminator included. ReadLine blocks until
// the instrument terminates its response.
type Transport interface {
	Send(p []byte) error
	ReadLine() (string, error)
}

// Conn is a Transport over any io.ReadWriter, such as a USBTMC character
// device or a raw SCPI socket. The buffered reader is created once and owned
// by the Conn so repeated reads never lose buffered bytes.
type Conn struct {
	rw   io.ReadWriter
	r    *bufio.Reader
	term byte
}

// ConnOption applies an option to a Conn.
type ConnOption func(*Conn)

// WithTerminator sets the byte that terminates instrument responses. The
// default is '\n'.
func WithTerminator(b byte) ConnOption { return func(c *Conn) { c.term = b } }

// NewConn creates a Transport reading and writing rw.
func NewConn(rw io.ReadWriter, opts ...ConnOption) *Conn {
	c := &Conn{
		rw:   rw,
		r:    bufio.NewReader(rw),
		term: '\n',
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send writes p to the instrument unchanged.
func (c *Conn) Send(p []byte) error {
	_, err := c.rw.Write(p)
	return err
}

// ReadLine reads up to and including the response terminator. A response cut
// short by EOF is returned without error, since some transports signal the
// end of a message that way.
func (c *Conn) ReadLine() (string, error) {
	s, err := c.r.ReadString(c.term)
	if err == io.EOF && len(s) > 0 {
		return s, nil
	}
	return s, err
}

// Close closes the underlying connection if it supports closing.
func (c *Conn) Close() error {
	if cl, ok := c.rw.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}
