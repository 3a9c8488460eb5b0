package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinyrange/fdtboot/internal/boot"
)

func newFindCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "find <blob> <path|alias>",
		Short: "Resolve a node by path or alias and print it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, release, err := openBlob(args[0])
			if err != nil {
				return err
			}
			defer release()

			n, ok := r.FindNode(args[1])
			if !ok {
				return fmt.Errorf("%s: node not found", args[1])
			}
			path, ok := boot.CanonicalPath(r, args[1])
			if !ok {
				path = args[1]
			}

			lw := newLineWriter(cmd.OutOrStdout())
			lw.printf("%s {", path)
			if err := writeNode(lw, n, "\t"); err != nil {
				return err
			}
			c := n.Children()
			for {
				child, ok := c.Next()
				if !ok {
					break
				}
				lw.printf("\t%s { ... };", child.FullName())
			}
			if err := c.Err(); err != nil {
				return err
			}
			return lw.printf("};")
		},
	}
}
