// Package find locates USB serial adapters, such as a Prologix GPIB-USB
// controller, from Linux sysfs.
package find

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// DefaultRoot is where sysfs is mounted.
const DefaultRoot = "/sys"

type FilterFn func(*Usbtty) bool

// PrologixFilter matches Prologix GPIB-USB controllers.
func PrologixFilter(ut *Usbtty) bool {
	return strings.Contains(ut.Mfg, "Prologix") ||
		strings.Contains(ut.Prod, "Prologix")
}

// ArduinoFilter matches Arduino boards, as used by AR488 controllers.
func ArduinoFilter(ut *Usbtty) bool {
	return strings.Contains(ut.Mfg, "Arduino")
}

func SerialFilter(s string) FilterFn {
	return func(ut *Usbtty) bool { return ut.Serial == s }
}

// AnyFilter matches a tty accepted by any of filters.
func AnyFilter(filters ...FilterFn) FilterFn {
	return func(ut *Usbtty) bool {
		for _, f := range filters {
			if f(ut) {
				return true
			}
		}
		return false
	}
}

// Find searches for a usb serial device and returns its /dev path. If filter
// is not nil, the first device it accepts is chosen; otherwise there must be
// exactly one usb tty.
func Find(filter FilterFn) (string, error) {
	return FindIn(DefaultRoot, filter)
}

// FindIn is Find with sysfs mounted at root.
func FindIn(root string, filter FilterFn) (string, error) {
	ttys, err := UsbTtysIn(root)
	if err != nil {
		return "", err
	}
	if filter != nil {
		var match Usbttys
		for i := range ttys {
			if filter(&ttys[i]) {
				match = Usbttys{ttys[i]}
				break
			}
		}
		ttys = match
	}

	if len(ttys) == 0 {
		return "", fmt.Errorf("no matching ttys found")
	}
	if len(ttys) == 1 {
		return filepath.Join("/dev", ttys[0].Dev), nil
	}
	return "", fmt.Errorf("multiple ttys:\n%s", ttys)
}

type Usbtty struct {
	Dev, Path string
	IDp, IDv  string
	Mfg, Prod string
	Serial    string
}

func (u Usbtty) String() string {
	return fmt.Sprintf("dev %s path %s pid/vid %s/%s mfg/prod %s/%s serial %s", u.Dev, u.Path, u.IDp, u.IDv, u.Mfg, u.Prod, u.Serial)
}

type Usbttys []Usbtty

func (uts Usbttys) String() string {
	s := make([]string, 0, len(uts))
	for _, ut := range uts {
		s = append(s, ut.String())
	}
	return strings.Join(s, "\n")
}

// UsbTtysIn lists ttys on usb devices with sysfs mounted at root.
func UsbTtysIn(root string) (Usbttys, error) {
	// device paths are matched relative to the resolved root so that the
	// mount point itself never looks like a usb device
	base, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, err
	}
	sct := filepath.Join(base, "class", "tty")
	entries, err := os.ReadDir(sct)
	if err != nil {
		return nil, err
	}
	var devs Usbttys
	for _, e := range entries {
		if e.Type()&fs.ModeSymlink == 0 {
			continue
		}
		// /sys/class/tty/ttyACM0 ->
		// /sys/devices/pci0000:00/0000:00:01.3/0000:02:00.0/usb1/1-10/1-10:1.0/tty/ttyACM0
		path := filepath.Join(sct, e.Name())
		abs, err := filepath.EvalSymlinks(path)
		if err != nil {
			log.Warn("skipping tty", "path", path, "err", err)
			continue
		}
		rel, err := filepath.Rel(base, abs)
		if err != nil || !strings.Contains(rel, "usb") {
			continue
		}
		// device points at the usb interface, e.g. .../1-10/1-10:1.0; the
		// descriptor files live one level up
		dev, err := filepath.EvalSymlinks(filepath.Join(abs, "device"))
		if err != nil {
			log.Warn("usb tty lacks device link", "path", abs, "err", err)
			continue
		}
		idP, idV, mfg, prod, serial, err := readUsbInfo(filepath.Dir(dev))
		if err != nil {
			log.Warn("reading usb descriptors", "path", abs, "err", err)
		}
		devs = append(devs, Usbtty{
			Dev:    e.Name(),
			Path:   abs,
			IDp:    idP,
			IDv:    idV,
			Mfg:    mfg,
			Prod:   prod,
			Serial: serial,
		})
	}
	return devs, nil
}

// readUsbInfo reads product and vendor ids and the mfg/product/serial
// strings. It returns the last error encountered, ignoring os.ErrNotExist;
// errors do not prevent reading the remaining files.
func readUsbInfo(dev string) (idp, idv, mfg, prod, serial string, err error) {
	read := func(name string) string {
		b, rerr := os.ReadFile(filepath.Join(dev, name))
		if rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			err = rerr
		}
		return strings.TrimSpace(string(b))
	}
	idp = read("idProduct")
	idv = read("idVendor")
	mfg = read("manufacturer")
	prod = read("product")
	serial = read("serial")
	return idp, idv, mfg, prod, serial, err
}
