package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/tinyrange/fdtboot/internal/dtb"
)

func newDumpCommand() *cobra.Command {
	var (
		noHeader bool
		paths    bool
	)

	cmd := &cobra.Command{
		Use:   "dump <blob>",
		Short: "Print a device tree blob as source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, release, err := openBlob(args[0])
			if err != nil {
				return err
			}
			defer release()

			lw := newLineWriter(cmd.OutOrStdout())
			if paths {
				return dtb.Walk(r.Root(), func(path string, depth int, n dtb.Node) error {
					return lw.printf("%s", path)
				})
			}
			if !noHeader {
				h := r.Header()
				lw.printf("// magic:\t\t%#x", h.Magic)
				lw.printf("// totalsize:\t\t%#x (%d)", h.TotalSize, h.TotalSize)
				lw.printf("// off_dt_struct:\t%#x", h.StructOffset)
				lw.printf("// off_dt_strings:\t%#x", h.StringsOffset)
				lw.printf("// off_mem_rsvmap:\t%#x", h.MemReserveOffset)
				lw.printf("// version:\t\t%d", h.Version)
				lw.printf("// last_comp_version:\t%d", h.LastCompVersion)
				lw.printf("// boot_cpuid_phys:\t%#x", h.BootCPUID)
				lw.printf("// size_dt_strings:\t%#x", h.StringsSize)
				lw.printf("// size_dt_struct:\t%#x", h.StructSize)
				lw.printf("")
			}
			if err := lw.printf("/dts-v1/;"); err != nil {
				return err
			}
			lw.printf("")

			rc := r.Reservations()
			reserved := false
			for {
				e, ok := rc.Next()
				if !ok {
					break
				}
				lw.printf("/memreserve/ %#x %#x;", e.Address, e.Size)
				reserved = true
			}
			if reserved {
				lw.printf("")
			}

			return dumpTree(lw, r.Root())
		},
	}
	cmd.Flags().BoolVar(&noHeader, "no-header", false, "omit the header comment")
	cmd.Flags().BoolVar(&paths, "paths", false, "print only node paths, one per line")
	return cmd
}

func dumpTree(lw *lineWriter, root dtb.Node) error {
	var walk func(n dtb.Node, depth int) error
	walk = func(n dtb.Node, depth int) error {
		indent := strings.Repeat("\t", depth)
		name := n.FullName()
		if depth == 0 {
			name = "/"
		}
		if err := lw.printf("%s%s {", indent, name); err != nil {
			return err
		}
		if err := writeNode(lw, n, indent+"\t"); err != nil {
			return err
		}
		c := n.Children()
		for {
			child, ok := c.Next()
			if !ok {
				break
			}
			if err := walk(child, depth+1); err != nil {
				return err
			}
		}
		if err := c.Err(); err != nil {
			return err
		}
		return lw.printf("%s};", indent)
	}
	return walk(root, 0)
}
