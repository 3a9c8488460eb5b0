package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tinyrange/fdtboot/internal/fdt"
	"github.com/tinyrange/fdtboot/internal/fdt/dts"
)

func newCompileCommand() *cobra.Command {
	var (
		output  string
		bootCPU uint32
		yamlOut bool
	)

	cmd := &cobra.Command{
		Use:   "compile <source>",
		Short: "Compile device tree source (.dts) or a YAML board (.yaml) to a blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bd, err := loadBoard(args[0])
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("boot-cpu") {
				bd.BootCPU = bootCPU
			}

			var data []byte
			if yamlOut {
				data, err = fdt.MarshalBoard(bd)
			} else {
				data, err = bd.Build()
			}
			if err != nil {
				return fmt.Errorf("compile %s: %w", args[0], err)
			}
			slog.Debug("compiled board", "source", args[0], "output", output, "size", len(data))
			return writeFile(cmd.OutOrStdout(), output, data)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file (- for stdout)")
	cmd.Flags().Uint32Var(&bootCPU, "boot-cpu", 0, "override the physical boot CPU id")
	cmd.Flags().BoolVar(&yamlOut, "yaml", false, "emit the YAML board description instead of a blob")
	return cmd
}

func loadBoard(path string) (fdt.Board, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dts":
		return dts.ParseFile(path)
	case ".yaml", ".yml":
		return fdt.LoadBoard(path)
	default:
		return fdt.Board{}, fmt.Errorf("%s: unknown source type (want .dts, .yaml or .yml)", path)
	}
}
