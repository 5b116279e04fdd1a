package capture

import (
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/damage"
	"github.com/BurntSushi/xgb/xfixes"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/deskcast/deskcast/internal/logger"
)

// eventPollInterval is the spin interval while waiting for a damage event.
// The X connection delivers events asynchronously; polling at 2ms keeps the
// acquire latency well under the 50ms budget without burning a core.
const eventPollInterval = 2 * time.Millisecond

// x11Duplicator captures the root window of an X display.
//
// Mapping onto the duplication model: the DAMAGE extension supplies the
// "next frame is ready" signal, a server-side pixmap acts as the staging
// surface (CopyArea from the root is the device-side copy), and GetImage on
// the pixmap is the CPU map. Releasing an acquired frame subtracts the
// accumulated damage so the server reports the following change.
type x11Duplicator struct {
	conn    *xgb.Conn
	root    xproto.Window
	staging xproto.Pixmap
	gc      xproto.Gcontext
	dmg     damage.Damage
	width   int
	height  int

	// mapped holds the GetImage reply data between MapStaging and
	// UnmapStaging.
	mapped []byte
}

// NewX11Duplicator connects to the X server named by $DISPLAY and prepares
// damage tracking plus a staging pixmap sized to the root window.
func NewX11Duplicator() (Duplicator, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("connecting to X server: %w", err)
	}

	screen := xproto.Setup(conn).DefaultScreen(conn)
	d := &x11Duplicator{
		conn:   conn,
		root:   screen.Root,
		width:  int(screen.WidthInPixels),
		height: int(screen.HeightInPixels),
	}

	if err := damage.Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("DAMAGE extension unavailable: %w", err)
	}
	if _, err := damage.QueryVersion(conn, 1, 1).Reply(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("negotiating DAMAGE version: %w", err)
	}

	dmg, err := damage.NewDamageId(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("allocating damage id: %w", err)
	}
	d.dmg = dmg
	if err := damage.CreateChecked(conn, dmg, xproto.Drawable(d.root), damage.ReportLevelNonEmpty).Check(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating damage tracker: %w", err)
	}

	staging, err := xproto.NewPixmapId(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("allocating staging pixmap id: %w", err)
	}
	d.staging = staging
	if err := xproto.CreatePixmapChecked(conn, screen.RootDepth, staging,
		xproto.Drawable(d.root), uint16(d.width), uint16(d.height)).Check(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating staging pixmap: %w", err)
	}

	gc, err := xproto.NewGcontextId(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("allocating gc id: %w", err)
	}
	d.gc = gc
	if err := xproto.CreateGCChecked(conn, gc, xproto.Drawable(staging), 0, nil).Check(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating gc: %w", err)
	}

	logger.WithComponent("x11").Info().
		Int("width", d.width).
		Int("height", d.height).
		Msg("X11 duplicator ready")
	return d, nil
}

func (d *x11Duplicator) Bounds() image.Rectangle {
	return image.Rect(0, 0, d.width, d.height)
}

// AcquireFrame waits for the next damage notification. Coalesced
// notifications for the same frame are drained in one acquire.
func (d *x11Duplicator) AcquireFrame(timeout time.Duration) (AcquiredFrame, error) {
	deadline := time.Now().Add(timeout)
	for {
		ev, xerr := d.conn.PollForEvent()
		if xerr != nil {
			return nil, classifyX11Error(fmt.Errorf("polling X events: %w", xerr))
		}
		if ev == nil {
			if !time.Now().Before(deadline) {
				return nil, ErrTimeout
			}
			time.Sleep(eventPollInterval)
			continue
		}
		if _, ok := ev.(damage.NotifyEvent); ok {
			d.drainNotifications()
			return &x11Frame{d: d}, nil
		}
		// Unrelated events (mapping notifies etc) are discarded.
	}
}

// drainNotifications consumes queued damage events so one screen update is
// acquired once, not once per damaged rectangle.
func (d *x11Duplicator) drainNotifications() {
	for {
		ev, xerr := d.conn.PollForEvent()
		if ev == nil || xerr != nil {
			return
		}
	}
}

func (d *x11Duplicator) MapStaging() ([]byte, int, error) {
	reply, err := xproto.GetImage(d.conn, xproto.ImageFormatZPixmap,
		xproto.Drawable(d.staging), 0, 0,
		uint16(d.width), uint16(d.height), 0xffffffff).Reply()
	if err != nil {
		return nil, 0, classifyX11Error(fmt.Errorf("reading staging pixmap: %w", err))
	}
	if len(reply.Data) < d.width*d.height*4 {
		return nil, 0, fmt.Errorf("staging image truncated: %d bytes", len(reply.Data))
	}
	d.mapped = reply.Data
	// The server pads each scanline; recover the actual stride instead of
	// assuming width*4.
	return d.mapped, len(reply.Data) / d.height, nil
}

func (d *x11Duplicator) UnmapStaging() {
	d.mapped = nil
}

func (d *x11Duplicator) Close() error {
	xproto.FreeGC(d.conn, d.gc)
	xproto.FreePixmap(d.conn, d.staging)
	damage.Destroy(d.conn, d.dmg)
	d.conn.Close()
	return nil
}

// x11Frame is one acquired desktop update.
type x11Frame struct {
	d *x11Duplicator
}

// CopyToStaging copies the root window into the staging pixmap. The copy is
// performed entirely by the X server.
func (f *x11Frame) CopyToStaging() error {
	err := xproto.CopyAreaChecked(f.d.conn,
		xproto.Drawable(f.d.root), xproto.Drawable(f.d.staging), f.d.gc,
		0, 0, 0, 0, uint16(f.d.width), uint16(f.d.height)).Check()
	if err != nil {
		return classifyX11Error(fmt.Errorf("copying root to staging: %w", err))
	}
	return nil
}

// Release subtracts the accumulated damage so the server reports the next
// change as a fresh notification.
func (f *x11Frame) Release() {
	damage.Subtract(f.d.conn, f.d.dmg, xfixes.Region(0), xfixes.Region(0))
}

// classifyX11Error decides whether an X error means the whole connection
// (and therefore the session) is gone. xgb does not expose a typed
// shutdown error, so this relies on message heuristics.
func classifyX11Error(err error) error {
	msg := strings.ToLower(err.Error())
	for _, kw := range []string{"connection", "closed", "broken pipe", "i/o error", "bad drawable", "bad window"} {
		if strings.Contains(msg, kw) {
			return fmt.Errorf("%w: %v", ErrDeviceLost, err)
		}
	}
	return err
}
