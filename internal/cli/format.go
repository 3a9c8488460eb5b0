package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"

	"github.com/tinyrange/fdtboot/internal/dtb"
)

// FormatValue renders a property value in device tree source syntax:
// a string list when every piece is printable, <cells> when the length is a
// multiple of four, [bytes] otherwise. Empty values render as "".
func FormatValue(value []byte) string {
	if len(value) == 0 {
		return ""
	}
	if strs, ok := printableStrings(value); ok {
		quoted := make([]string, len(strs))
		for i, s := range strs {
			quoted[i] = fmt.Sprintf("%q", s)
		}
		return strings.Join(quoted, ", ")
	}
	var b strings.Builder
	if len(value)%4 == 0 {
		b.WriteByte('<')
		for i := 0; i < len(value); i += 4 {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%#x", uint32(value[i])<<24|uint32(value[i+1])<<16|uint32(value[i+2])<<8|uint32(value[i+3]))
		}
		b.WriteByte('>')
		return b.String()
	}
	b.WriteByte('[')
	for i, c := range value {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x", c)
	}
	b.WriteByte(']')
	return b.String()
}

func printableStrings(value []byte) ([]string, bool) {
	if value[len(value)-1] != 0 || value[0] == 0 {
		return nil, false
	}
	parts := bytes.Split(value[:len(value)-1], []byte{0})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if len(p) == 0 {
			return nil, false
		}
		for _, r := range string(p) {
			if r == unicode.ReplacementChar || !unicode.IsPrint(r) {
				return nil, false
			}
		}
		out = append(out, string(p))
	}
	return out, true
}

// lineWriter truncates lines to the terminal width when w is a terminal.
type lineWriter struct {
	w     io.Writer
	width int
}

func newLineWriter(w io.Writer) *lineWriter {
	lw := &lineWriter{w: w}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			lw.width = width
		}
	}
	return lw
}

func (lw *lineWriter) printf(format string, args ...any) error {
	line := fmt.Sprintf(format, args...)
	if lw.width > 0 && ansi.StringWidth(line) > lw.width {
		line = ansi.Truncate(line, lw.width, "…")
	}
	_, err := io.WriteString(lw.w, line+"\n")
	return err
}

// writeNode prints n's properties at the given indent.
func writeNode(lw *lineWriter, n dtb.Node, indent string) error {
	c := n.Properties()
	for {
		p, ok := c.Next()
		if !ok {
			break
		}
		if v := FormatValue(p.Value()); v != "" {
			if err := lw.printf("%s%s = %s;", indent, p.Name(), v); err != nil {
				return err
			}
		} else if err := lw.printf("%s%s;", indent, p.Name()); err != nil {
			return err
		}
	}
	return c.Err()
}
