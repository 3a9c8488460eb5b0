package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/tinyrange/fdtboot/internal/board"
	"github.com/tinyrange/fdtboot/internal/boot"
	"github.com/tinyrange/fdtboot/internal/devices/finisher"
	"github.com/tinyrange/fdtboot/internal/driver"
)

type bootOptions struct {
	harts      int
	ramMiB     uint64
	bootargs   string
	stdoutPath string
	policy     string
	dtbOut     string
	mirror     bool
}

func newBootCommand(root *options) *cobra.Command {
	opts := &bootOptions{}

	cmd := &cobra.Command{
		Use:   "boot",
		Short: "Boot the simulated riscv64 virt board through driver discovery",
		Long: `Build a riscv64 virt board, place its device tree at the top of RAM and run
the kernel start-up path against it: heap sizing, driver discovery and
console selection. Console output is written to stdout. The kernel then
reads the RTC and powers the board off through the test device.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := root.level()
			if err != nil {
				return err
			}
			return runBoot(cmd, opts, level)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.harts, "harts", 1, "number of harts")
	f.Uint64Var(&opts.ramMiB, "ram", board.DefaultRAMSize>>20, "RAM size in MiB")
	f.StringVar(&opts.bootargs, "bootargs", "", "kernel command line placed in /chosen")
	f.StringVar(&opts.stdoutPath, "stdout-path", board.DefaultStdoutPath, "console named in /chosen")
	f.StringVar(&opts.policy, "policy", "abort", "malformed subtree policy (abort or skip)")
	f.StringVar(&opts.dtbOut, "dtb-out", "", "also write the generated device tree to this file")
	f.BoolVar(&opts.mirror, "mirror", false, "mirror the kernel log to stderr")
	return cmd
}

func runBoot(cmd *cobra.Command, opts *bootOptions, level slog.Level) error {
	policy, err := driver.ParseParsePolicy(opts.policy)
	if err != nil {
		return err
	}

	exit := make(chan finisher.Status, 1)
	m, err := board.NewVirt(board.Config{
		RAMSize:    opts.ramMiB << 20,
		Harts:      opts.harts,
		Bootargs:   opts.bootargs,
		StdoutPath: opts.stdoutPath,
		Output:     cmd.OutOrStdout(),
		OnExit: func(s finisher.Status) {
			select {
			case exit <- s:
			default:
			}
		},
	})
	if err != nil {
		return err
	}
	slog.Debug("board ready",
		"harts", m.Harts,
		"kernel_end", fmt.Sprintf("%#x", m.KernelEnd),
		"dtb", fmt.Sprintf("%#x", m.BlobAddr),
		"dtb_size", m.BlobSize)

	if opts.dtbOut != "" {
		if err := os.WriteFile(opts.dtbOut, m.Blob(), 0o644); err != nil {
			return fmt.Errorf("write device tree: %w", err)
		}
	}

	cfg := boot.Config{
		Blob:      m.Blob(),
		Bus:       m.Bus,
		KernelEnd: m.KernelEnd,
		Level:     level,
		Policy:    policy,
	}
	if opts.mirror {
		cfg.Mirror = cmd.ErrOrStderr()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if err := boot.Run(ctx, opts.harts, cfg, kernelMain); err != nil {
		return err
	}

	select {
	case s := <-exit:
		slog.Info("machine stopped", "status", s.String())
		if s.Action == finisher.ActionPoweroff && s.Code != 0 {
			return fmt.Errorf("guest exited with code %d", s.Code)
		}
	default:
		slog.Warn("kernel returned without stopping the machine")
	}
	return nil
}

// kernelMain is what runs after discovery: report the bound drivers, read
// the clock and power off.
func kernelMain(ctx context.Context, sys *boot.System) error {
	for _, b := range sys.Drivers.Bindings() {
		sys.Log.Debug("binding", "path", b.Path, "driver", b.Driver, "kinds", fmt.Sprint(b.Kinds))
	}

	if rtc, ok := driver.Find(sys.Drivers, driver.RTCCap); ok {
		var now string
		err := rtc.Do(func(r driver.RTC) error {
			t, err := r.Now()
			now = t.Format("2006-01-02 15:04:05 UTC")
			return err
		})
		if err != nil {
			sys.Log.Warn("rtc read failed", "path", rtc.Path(), "error", err)
		} else {
			sys.Log.Info("wall clock", "time", now)
		}
	}

	power, ok := driver.Find(sys.Drivers, driver.PowerCap)
	if !ok {
		sys.Log.Warn("no power driver; halting")
		return nil
	}
	sys.Log.Info("powering off")
	return power.Do(func(p driver.Power) error { return p.Poweroff(0) })
}
