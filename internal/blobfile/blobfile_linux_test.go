package blobfile

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestMapIsPrivate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "private.dtb")
	if err := os.WriteFile(path, []byte{0xd0, 0x0d, 0xfe, 0xed}, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, release, err := Map(path)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	defer release()

	maps, err := os.Open("/proc/self/maps")
	if err != nil {
		t.Skipf("no /proc: %v", err)
	}
	defer maps.Close()

	sc := bufio.NewScanner(maps)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 6 || fields[len(fields)-1] != path {
			continue
		}
		if fields[1] != "r--p" {
			t.Fatalf("mapping perms = %s, want r--p", fields[1])
		}
		return
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("read maps: %v", err)
	}
	t.Fatalf("no mapping of %s in /proc/self/maps", path)
}
