// Package cmdlog builds the process logger and traces instrument traffic.
package cmdlog

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/gotmc/ldsweep"
)

// TimeFormat stamps log lines to the microsecond.
const TimeFormat = "15:04:05.000000"

var (
	CmdStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	R1Style  = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	R2Style  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
)

// New returns a logger writing to w. Debug enables instrument traffic.
func New(w io.Writer, debug bool) *log.Logger {
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      TimeFormat,
		Level:           log.InfoLevel,
	})
	if debug {
		l.SetLevel(log.DebugLevel)
	}
	styles := log.DefaultStyles()
	styles.Keys["cmd"] = CmdStyle
	styles.Values["cmd"] = CmdStyle
	styles.Keys["resp"] = R1Style
	styles.Values["resp"] = R2Style
	l.SetStyles(styles)
	return l
}

func isAscii(s string) bool {
	return !strings.ContainsFunc(s, func(r rune) bool {
		switch {
		case r < 7:
			return true
		case r > 6 && r < 14:
			return false
		case r > 13 && r < 32:
			return true
		case r > 127:
			return true
		}
		return false
	})
}

// Describe renders an instrument response for a log line. Printable
// responses are quoted; binary ones are shown in hex, alongside the quoted
// form when short.
func Describe(s string) string {
	s = strings.TrimSuffix(s, "\n")
	switch {
	case len(s) == 0:
		return "<no response>"
	case isAscii(s):
		return fmt.Sprintf("[%d] %q", len(s), s)
	case len(s) < 32:
		return fmt.Sprintf("[%d] %q (% 2x)", len(s), s, []byte(s))
	default:
		return fmt.Sprintf("[%d] % 2x", len(s), []byte(s))
	}
}

type traced struct {
	name   string
	t      ldsweep.Transport
	logger *log.Logger
}

// Trace wraps t so that every command and response is logged at debug level
// under name.
func Trace(name string, t ldsweep.Transport, logger *log.Logger) ldsweep.Transport {
	return &traced{name: name, t: t, logger: logger}
}

func (tr *traced) Send(p []byte) error {
	cmd := strings.TrimRight(string(p), "\r\n")
	err := tr.t.Send(p)
	if err != nil {
		tr.logger.Debug("send", "instrument", tr.name, "cmd", cmd, "err", err)
		return err
	}
	tr.logger.Debug("send", "instrument", tr.name, "cmd", cmd)
	return nil
}

func (tr *traced) ReadLine() (string, error) {
	s, err := tr.t.ReadLine()
	if err != nil {
		tr.logger.Debug("read", "instrument", tr.name, "resp", Describe(s), "err", err)
		return s, err
	}
	tr.logger.Debug("read", "instrument", tr.name, "resp", Describe(s))
	return s, nil
}

// Close closes the wrapped transport if it supports closing.
func (tr *traced) Close() error {
	if c, ok := tr.t.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
