//go:build linux

package executor

import (
	"encoding/binary"
	"strings"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"github.com/jezek/xgb/xtest"
	"github.com/pkg/errors"
)

// XF86 media keysyms
const (
	keysymAudioPlay = 0x1008FF14
	keysymAudioPrev = 0x1008FF16
	keysymAudioNext = 0x1008FF17
)

var x11Atoms = []string{
	"_NET_CLIENT_LIST",
	"_NET_WM_NAME",
	"_NET_WM_PID",
	"WM_NAME",
	"UTF8_STRING",
}

// x11Client wraps one X connection; xgb connections are safe for concurrent use
type x11Client struct {
	conn    *xgb.Conn
	root    xproto.Window
	atoms   map[string]xproto.Atom
	minCode xproto.Keycode
	maxCode xproto.Keycode
	hasTest bool
}

func newX11Client() (*x11Client, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to X server")
	}

	setup := xproto.Setup(conn)
	c := &x11Client{
		conn:    conn,
		root:    setup.DefaultScreen(conn).Root,
		atoms:   make(map[string]xproto.Atom, len(x11Atoms)),
		minCode: setup.MinKeycode,
		maxCode: setup.MaxKeycode,
	}

	for _, name := range x11Atoms {
		reply, err := xproto.InternAtom(conn, false, uint16(len(name)), name).Reply()
		if err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "failed to intern atom %s", name)
		}
		c.atoms[name] = reply.Atom
	}

	c.hasTest = xtest.Init(conn) == nil
	return c, nil
}

func (c *x11Client) close() {
	c.conn.Close()
}

func (c *x11Client) getProperty(window xproto.Window, atom, atomType xproto.Atom, length uint32) ([]byte, error) {
	reply, err := xproto.GetProperty(c.conn, false, window, atom, atomType, 0, length).Reply()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read window property")
	}
	return reply.Value, nil
}

func (c *x11Client) cursor() (domain.Point, error) {
	reply, err := xproto.QueryPointer(c.conn, c.root).Reply()
	if err != nil {
		return domain.Point{}, errors.Wrap(err, "failed to query pointer")
	}
	return domain.Point{X: int(reply.RootX), Y: int(reply.RootY)}, nil
}

func (c *x11Client) clientList() ([]xproto.Window, error) {
	data, err := c.getProperty(c.root, c.atoms["_NET_CLIENT_LIST"], xproto.AtomWindow, 4096)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read client list")
	}
	return decodeWindows(data), nil
}

func (c *x11Client) windowPID(window xproto.Window) uint32 {
	data, err := c.getProperty(window, c.atoms["_NET_WM_PID"], xproto.AtomCardinal, 1)
	if err != nil || len(data) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(data)
}

func (c *x11Client) windowName(window xproto.Window) string {
	data, err := c.getProperty(window, c.atoms["_NET_WM_NAME"], c.atoms["UTF8_STRING"], 256)
	if err == nil && len(data) > 0 {
		return strings.TrimRight(string(data), "\x00")
	}

	data, err = c.getProperty(window, c.atoms["WM_NAME"], xproto.AtomString, 256)
	if err == nil && len(data) > 0 {
		return strings.TrimRight(string(data), "\x00")
	}
	return ""
}

// titlesFor returns the names of every managed window owned by pid
func (c *x11Client) titlesFor(pid int) ([]string, error) {
	windows, err := c.clientList()
	if err != nil {
		return nil, err
	}

	var titles []string
	for _, w := range windows {
		if int(c.windowPID(w)) != pid {
			continue
		}
		if name := c.windowName(w); name != "" {
			titles = append(titles, name)
		}
	}
	return titles, nil
}

// pressKeysym sends a synthetic press and release of the key mapped to sym
func (c *x11Client) pressKeysym(sym xproto.Keysym) error {
	if !c.hasTest {
		return errors.New("XTEST extension not available")
	}

	count := byte(c.maxCode - c.minCode + 1)
	mapping, err := xproto.GetKeyboardMapping(c.conn, c.minCode, count).Reply()
	if err != nil {
		return errors.Wrap(err, "failed to read keyboard mapping")
	}

	code, ok := findKeycode(mapping.Keysyms, int(mapping.KeysymsPerKeycode), c.minCode, sym)
	if !ok {
		return errors.Errorf("no keycode mapped to keysym 0x%X", uint32(sym))
	}

	for _, typ := range []byte{xproto.KeyPress, xproto.KeyRelease} {
		err := xtest.FakeInputChecked(c.conn, typ, byte(code), xproto.TimeCurrentTime, c.root, 0, 0, 0).Check()
		if err != nil {
			return errors.Wrap(err, "failed to inject key event")
		}
	}
	c.conn.Sync()
	return nil
}

func decodeWindows(data []byte) []xproto.Window {
	windows := make([]xproto.Window, 0, len(data)/4)
	for i := 0; i+4 <= len(data); i += 4 {
		windows = append(windows, xproto.Window(binary.LittleEndian.Uint32(data[i:])))
	}
	return windows
}

func findKeycode(keysyms []xproto.Keysym, perCode int, minCode xproto.Keycode, want xproto.Keysym) (xproto.Keycode, bool) {
	if perCode <= 0 {
		return 0, false
	}
	for i, sym := range keysyms {
		if sym == want {
			return minCode + xproto.Keycode(i/perCode), true
		}
	}
	return 0, false
}

func keysymFor(cmd domain.TransportCommand) (xproto.Keysym, bool) {
	switch cmd {
	case domain.CommandPlayPause:
		return keysymAudioPlay, true
	case domain.CommandNext:
		return keysymAudioNext, true
	case domain.CommandPrevious:
		return keysymAudioPrev, true
	}
	return 0, false
}
