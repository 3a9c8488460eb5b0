package cli

import (
	"github.com/spf13/cobra"
)

func newReservedCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reserved <blob>",
		Short: "List memory reservation entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, release, err := openBlob(args[0])
			if err != nil {
				return err
			}
			defer release()

			lw := newLineWriter(cmd.OutOrStdout())
			c := r.Reservations()
			for {
				e, ok := c.Next()
				if !ok {
					return nil
				}
				if err := lw.printf("0x%016x-0x%016x (%#x bytes)", e.Address, e.End(), e.Size); err != nil {
					return err
				}
			}
		},
	}
}
