package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tinyrange/fdtboot/internal/dtb"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestBootWritesConsoleAndPowersOff(t *testing.T) {
	dtbPath := filepath.Join(t.TempDir(), "virt.dtb")

	stdout, stderr, err := execute(t, "boot", "--harts", "2", "--dtb-out", dtbPath)
	require.NoError(t, err)
	require.Contains(t, stdout, "[INFO] driver loaded path=/soc/serial@10000000 driver=ns16550a compatible=ns16550a\n")
	require.Contains(t, stdout, "[INFO] stdout path path=/soc/serial@10000000\n")
	require.Contains(t, stdout, "[INFO] wall clock time=")
	require.Contains(t, stdout, "[INFO] powering off\n")
	require.Contains(t, stderr, "machine stopped")

	info, err := os.Stat(dtbPath)
	require.NoError(t, err)
	require.NotZero(t, info.Size())
}

func TestBootRejectsBadFlags(t *testing.T) {
	_, _, err := execute(t, "boot", "--policy", "ignore")
	require.Error(t, err)

	_, _, err = execute(t, "--log-level", "loud", "boot")
	require.Error(t, err)

	_, _, err = execute(t, "boot", "--stdout-path", "rtc0")
	require.ErrorContains(t, err, "console")
}

func TestInspectCommands(t *testing.T) {
	dtbPath := filepath.Join(t.TempDir(), "virt.dtb")
	_, _, err := execute(t, "boot", "--dtb-out", dtbPath, "--bootargs", "console=ttyS0")
	require.NoError(t, err)

	out, _, err := execute(t, "dump", dtbPath)
	require.NoError(t, err)
	require.Contains(t, out, "// magic:\t\t0xd00dfeed\n")
	require.Contains(t, out, "/dts-v1/;\n")
	require.Contains(t, out, "/memreserve/ ")
	require.Contains(t, out, "\t\tserial@10000000 {\n")
	require.Contains(t, out, "\t\t\tcompatible = \"ns16550a\";\n")
	require.Contains(t, out, "\t\tbootargs = \"console=ttyS0\";\n")

	out, _, err = execute(t, "dump", "--paths", dtbPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Equal(t, "/", lines[0])
	require.Contains(t, lines, "/soc/serial@10000000")
	require.Contains(t, lines, "/cpus/cpu@0/interrupt-controller")

	out, _, err = execute(t, "find", dtbPath, "serial0")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "/soc/serial@10000000 {\n"), out)

	_, _, err = execute(t, "find", dtbPath, "serial9")
	require.Error(t, err)

	out, _, err = execute(t, "reserved", dtbPath)
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 1)

	out, _, err = execute(t, "drivers", "--blob", dtbPath)
	require.NoError(t, err)
	require.Regexp(t, `/soc/serial@10000000\s+ns16550a\s+ns16550a`, out)
	require.Regexp(t, `/soc/plic@c000000\s+sifive,plic-1.0.0\s+-`, out)
}

func TestCompile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "tiny.dts")
	require.NoError(t, os.WriteFile(src, []byte(`/dts-v1/;
/memreserve/ 0x1000 0x1000;
/ {
	cpus { };
	soc {
		serial@10000000 {
			compatible = "ns16550a";
			reg = <0x0 0x10000000 0x0 0x100>;
		};
	};
};
`), 0o644))

	out := filepath.Join(dir, "tiny.dtb")
	_, _, err := execute(t, "compile", src, "-o", out, "--boot-cpu", "2")
	require.NoError(t, err)

	dump, _, err := execute(t, "dump", out)
	require.NoError(t, err)
	require.Contains(t, dump, "// boot_cpuid_phys:\t0x2\n")
	require.Contains(t, dump, "/memreserve/ 0x1000 0x1000;\n")
	require.Contains(t, dump, "\t\t\treg = <0x0 0x10000000 0x0 0x100>;\n")

	yamlOut, _, err := execute(t, "compile", src, "--yaml")
	require.NoError(t, err)
	yamlPath := filepath.Join(dir, "tiny.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlOut), 0o644))
	_, _, err = execute(t, "compile", yamlPath, "-o", filepath.Join(dir, "again.dtb"))
	require.NoError(t, err)

	_, _, err = execute(t, "compile", filepath.Join(dir, "board.txt"))
	require.ErrorContains(t, err, "unknown source type")
}

func TestDriversList(t *testing.T) {
	out, _, err := execute(t, "drivers")
	require.NoError(t, err)
	require.Regexp(t, `ns16550a\s+ns16550a`, out)
	require.Regexp(t, `arm,pl031\s+pl031`, out)
	require.Regexp(t, `sifive,test0\s+sifive-test`, out)
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   []byte
		want string
	}{
		{nil, ""},
		{[]byte("okay\x00"), `"okay"`},
		{[]byte("ns16550a\x00ns16550\x00"), `"ns16550a", "ns16550"`},
		{[]byte{0, 0, 0, 1, 0x10, 0, 0, 0}, "<0x1 0x10000000>"},
		{[]byte{0, 0, 0, 0}, "<0x0>"},
		{[]byte{0xde, 0xad, 0xbe}, "[de ad be]"},
		{[]byte("a\x00\x00"), "[61 00 00]"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, FormatValue(tt.in), "%x", tt.in)
	}
}

func TestOpenBlobRejectsJunk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.dtb")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xaa}, 64), 0o644))

	_, _, err := openBlob(path)
	require.ErrorContains(t, err, path)
	var herr *dtb.HeaderError
	require.ErrorAs(t, err, &herr)
}

func TestOpenBlobReportsReleaseFailure(t *testing.T) {
	released := 0
	unmapErr := errors.New("munmap failed")
	saved := mapBlob
	mapBlob = func(string) ([]byte, func() error, error) {
		return bytes.Repeat([]byte{0xaa}, 64), func() error {
			released++
			return unmapErr
		}, nil
	}
	t.Cleanup(func() { mapBlob = saved })

	_, _, err := openBlob("junk.dtb")
	require.Equal(t, 1, released)
	require.ErrorIs(t, err, unmapErr)
	var herr *dtb.HeaderError
	require.ErrorAs(t, err, &herr)
}
