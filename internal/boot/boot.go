// Package boot runs the kernel's start-up sequence over a device tree:
// open the blob, size the heap, bind drivers and route the kernel log to
// the console named by /chosen.
package boot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tinyrange/fdtboot/internal/driver"
	"github.com/tinyrange/fdtboot/internal/drivers"
	"github.com/tinyrange/fdtboot/internal/dtb"
	"github.com/tinyrange/fdtboot/internal/klog"
	"github.com/tinyrange/fdtboot/internal/mem"
	"github.com/tinyrange/fdtboot/internal/mmio"
)

var (
	ErrNoChosen  = errors.New("no usable /chosen stdout-path")
	ErrNoConsole = errors.New("stdout-path has no console driver")
	ErrNoMemory  = errors.New("no memory node")
)

// BootHart is the hart that runs discovery. Every other hart parks.
const BootHart = 0

// Config holds everything Boot needs. Zero values pick defaults.
type Config struct {
	// Blob is the device tree, left untouched for the life of the system.
	Blob []byte
	// Bus is handed to drivers for register access.
	Bus mmio.Accessor
	// KernelEnd is the first physical address after the kernel image.
	KernelEnd uint64
	// Level filters the kernel log; nil means info.
	Level slog.Leveler
	// Registry defaults to the built-in drivers.
	Registry *driver.Registry
	// Policy decides what happens to subtrees that fail to decode.
	Policy driver.ParsePolicy
	// Mirror, if set, receives the kernel log alongside the console.
	Mirror io.Writer
}

// System is a booted kernel.
type System struct {
	Reader  *dtb.Reader
	Drivers *driver.Manager
	Heap    *mem.BumpAllocator
	Log     *slog.Logger
	Handler *klog.Handler

	// StdoutPath is the canonical path of the console node.
	StdoutPath string
	Console    *driver.Handle[driver.Console]
}

// Boot brings the system up. It must run on BootHart with every other hart
// parked.
func Boot(cfg Config) (*System, error) {
	h := klog.New(cfg.Level)
	if cfg.Mirror != nil {
		h.AddSink(cfg.Mirror)
	}
	log := slog.New(h)

	r, err := dtb.Open(cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("boot: open device tree: %w", err)
	}

	heap := &mem.BumpAllocator{}
	start, end, err := heapRange(r, cfg.KernelEnd)
	if err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	if err := heap.Init(start, end); err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	log.Debug("heap initialized", "start", fmt.Sprintf("%#x", start), "end", fmt.Sprintf("%#x", end))

	reg := cfg.Registry
	if reg == nil {
		reg = drivers.Registry()
	}
	mgr := driver.NewManager(reg, cfg.Bus,
		driver.WithLogger(log),
		driver.WithParsePolicy(cfg.Policy),
	)
	if err := mgr.LoadDrivers(r.Root()); err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}

	stdout, err := StdoutPath(r)
	if err != nil {
		return nil, fmt.Errorf("boot: %w", err)
	}
	console, ok := driver.Get(mgr, stdout, driver.ConsoleCap)
	if !ok {
		return nil, fmt.Errorf("boot: %s: %w", stdout, ErrNoConsole)
	}
	h.AddSink(driver.ConsoleWriter(console))

	log.Info("stdout path", "path", stdout)
	log.Info("RAM available", "kib", heap.Available()/1024)

	return &System{
		Reader:     r,
		Drivers:    mgr,
		Heap:       heap,
		Log:        log,
		Handler:    h,
		StdoutPath: stdout,
		Console:    console,
	}, nil
}

// StdoutPath resolves /chosen/stdout-path to the canonical path of the
// console node. Any ":options" suffix is dropped and aliases are followed.
func StdoutPath(r *dtb.Reader) (string, error) {
	chosen, ok := r.FindNode("/chosen")
	if !ok {
		return "", ErrNoChosen
	}
	p, ok := chosen.Property("stdout-path")
	if !ok {
		return "", fmt.Errorf("%w: property missing", ErrNoChosen)
	}
	s, ok := p.String()
	if !ok || s == "" {
		return "", fmt.Errorf("%w: property is not a string", ErrNoChosen)
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	path, ok := CanonicalPath(r, s)
	if !ok {
		return "", fmt.Errorf("%w: %q does not name a node", ErrNoChosen, s)
	}
	return path, nil
}

// CanonicalPath resolves path (absolute or alias-prefixed) to the absolute
// path built from full node names, which is how drivers are keyed.
func CanonicalPath(r *dtb.Reader, path string) (string, bool) {
	if !strings.HasPrefix(path, "/") {
		alias, rest, _ := strings.Cut(path, "/")
		target, ok := r.ResolveAlias(alias)
		if !ok || !strings.HasPrefix(target, "/") {
			return "", false
		}
		path = target
		if rest != "" {
			path = strings.TrimSuffix(target, "/") + "/" + rest
		}
	}

	n := r.Root()
	out := "/"
	for _, comp := range strings.Split(path, "/") {
		if comp == "" {
			continue
		}
		child, ok := n.Child(comp)
		if !ok {
			return "", false
		}
		n = child
		out = dtb.JoinPath(out, child.FullName())
	}
	return out, true
}

// heapRange picks the largest stretch of the first memory node that is not
// covered by the kernel image or a reservation.
func heapRange(r *dtb.Reader, kernelEnd uint64) (uint64, uint64, error) {
	root := r.Root()
	addrCells := driver.U32Property(root, "#address-cells", 2)
	sizeCells := driver.U32Property(root, "#size-cells", 1)

	var (
		base, size uint64
		found      bool
	)
	c := root.Children()
	for {
		n, ok := c.Next()
		if !ok {
			break
		}
		dt, ok := n.Property("device_type")
		if !ok {
			continue
		}
		if s, _ := dt.String(); s != "memory" {
			continue
		}
		reg, ok := n.Property("reg")
		if !ok {
			continue
		}
		base, size, ok = decodeReg(reg, addrCells, sizeCells)
		if !ok {
			return 0, 0, fmt.Errorf("%s: malformed reg", n.FullName())
		}
		found = true
		break
	}
	if err := c.Err(); err != nil {
		return 0, 0, err
	}
	if !found {
		return 0, 0, ErrNoMemory
	}

	free := []span{{base, base + size}}
	if kernelEnd > base && kernelEnd <= base+size {
		free = carve(free, span{base, kernelEnd})
	}
	rc := r.Reservations()
	for {
		e, ok := rc.Next()
		if !ok {
			break
		}
		free = carve(free, span{e.Address, e.End()})
	}

	var best span
	for _, s := range free {
		if s.end-s.start > best.end-best.start {
			best = s
		}
	}
	if best.end == best.start {
		return 0, 0, fmt.Errorf("%w: memory fully reserved", mem.ErrOutOfMemory)
	}
	return best.start, best.end, nil
}

func decodeReg(p dtb.Property, addrCells, sizeCells uint32) (uint64, uint64, bool) {
	read := func(first, n uint32) (uint64, bool) {
		var v uint64
		for i := uint32(0); i < n; i++ {
			w, ok := p.Cell(int(first + i))
			if !ok {
				return 0, false
			}
			v = v<<32 | uint64(w)
		}
		return v, true
	}
	if addrCells == 0 || addrCells > 2 || sizeCells == 0 || sizeCells > 2 {
		return 0, 0, false
	}
	base, ok := read(0, addrCells)
	if !ok {
		return 0, 0, false
	}
	size, ok := read(addrCells, sizeCells)
	return base, size, ok
}

type span struct{ start, end uint64 }

// carve removes hole from every span in free.
func carve(free []span, hole span) []span {
	if hole.end <= hole.start {
		return free
	}
	var out []span
	for _, s := range free {
		if hole.end <= s.start || hole.start >= s.end {
			out = append(out, s)
			continue
		}
		if hole.start > s.start {
			out = append(out, span{s.start, hole.start})
		}
		if hole.end < s.end {
			out = append(out, span{hole.end, s.end})
		}
	}
	return out
}

// Park holds a secondary hart until ctx ends. The boot hart returns at once.
func Park(ctx context.Context, hartID int) error {
	if hartID == BootHart {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

// Run boots on BootHart, parks the other harts, then calls main with the
// booted system. Parked harts are released when main returns.
func Run(ctx context.Context, harts int, cfg Config, main func(context.Context, *System) error) error {
	if harts < 1 {
		harts = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for hart := 0; hart < harts; hart++ {
		if hart == BootHart {
			continue
		}
		hart := hart
		g.Go(func() error {
			if err := Park(gctx, hart); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		defer cancel()
		sys, err := Boot(cfg)
		if err != nil {
			return err
		}
		sys.Log.Debug("secondary harts parked", "count", harts-1)
		if main == nil {
			return nil
		}
		return main(gctx, sys)
	})
	return g.Wait()
}
