// Package cli implements the fdtboot command line: inspection of flattened
// device tree blobs, compilation of board descriptions, and a simulated boot
// of the kernel's discovery path on a riscv64 virt board.
package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyrange/fdtboot/internal/blobfile"
	"github.com/tinyrange/fdtboot/internal/dtb"
	"github.com/tinyrange/fdtboot/internal/klog"
)

type options struct {
	debug    bool
	logLevel string
}

// NewRootCommand returns the fdtboot command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "fdtboot",
		Short: "Flattened device tree decoder and driver discovery",
		Long: `Inspect device tree blobs, compile board descriptions into blobs, and
boot a simulated riscv64 virt board through driver discovery.

Examples:
  fdtboot dump virt.dtb                 # Print header, reservations and tree
  fdtboot find virt.dtb serial0         # Resolve an alias or path
  fdtboot compile board.dts -o out.dtb  # Compile source or YAML to a blob
  fdtboot boot --harts 4 --debug        # Boot the virt board`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := opts.level()
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			return nil
		},
	}
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (error, warn, info, debug or 0-3)")

	root.AddCommand(
		newDumpCommand(),
		newFindCommand(),
		newReservedCommand(),
		newCompileCommand(),
		newDriversCommand(),
		newBootCommand(opts),
	)
	return root
}

func (o *options) level() (slog.Level, error) {
	if o.debug {
		return slog.LevelDebug, nil
	}
	level, err := klog.ParseLevel(o.logLevel)
	if err != nil {
		return 0, fmt.Errorf("--log-level: %w", err)
	}
	return level, nil
}

var mapBlob = blobfile.Map

// openBlob maps path and opens it as a device tree. The returned function
// releases the mapping; nodes from the reader must not be used afterwards.
func openBlob(path string) (*dtb.Reader, func() error, error) {
	data, release, err := mapBlob(path)
	if err != nil {
		return nil, nil, err
	}
	r, err := dtb.Open(data)
	if err != nil {
		err = fmt.Errorf("%s: %w", path, err)
		if rerr := release(); rerr != nil {
			err = errors.Join(err, fmt.Errorf("release %s: %w", path, rerr))
		}
		return nil, nil, err
	}
	slog.Debug("opened device tree", "path", path, "size", len(data), "version", r.Header().Version)
	return r, release, nil
}

func writeFile(w io.Writer, path string, data []byte) error {
	if path == "-" {
		_, err := w.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
