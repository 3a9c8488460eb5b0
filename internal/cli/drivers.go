package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tinyrange/fdtboot/internal/drivers"
	"github.com/tinyrange/fdtboot/internal/dtb"
)

func newDriversCommand() *cobra.Command {
	var blob string

	cmd := &cobra.Command{
		Use:   "drivers",
		Short: "List built-in drivers, or the nodes of a blob they would claim",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := drivers.Registry()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()

			if blob == "" {
				fmt.Fprintln(tw, "COMPATIBLE\tDRIVER")
				for _, compat := range reg.Compatibles() {
					desc, _ := reg.Lookup(compat)
					fmt.Fprintf(tw, "%s\t%s\n", compat, desc.Name)
				}
				return nil
			}

			r, release, err := openBlob(blob)
			if err != nil {
				return err
			}
			defer release()

			fmt.Fprintln(tw, "PATH\tCOMPATIBLE\tDRIVER")
			return dtb.Walk(r.Root(), func(path string, depth int, n dtb.Node) error {
				if depth == 0 {
					return nil
				}
				p, ok := n.Property("compatible")
				if !ok {
					return nil
				}
				compats := p.Strings()
				if len(compats) == 0 {
					return nil
				}
				for _, compat := range compats {
					if desc, ok := reg.Lookup(compat); ok {
						_, err := fmt.Fprintf(tw, "%s\t%s\t%s\n", path, compat, desc.Name)
						return err
					}
				}
				_, err := fmt.Fprintf(tw, "%s\t%s\t-\n", path, compats[0])
				return err
			})
		},
	}
	cmd.Flags().StringVar(&blob, "blob", "", "match drivers against the nodes of this blob")
	return cmd
}
