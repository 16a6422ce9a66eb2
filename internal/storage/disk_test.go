package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskUsage(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) {
		t.Helper()
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("CURRENT", "gen-2\n")
	write("gen-1/manifest.json", "{}")
	write("gen-1/vectors.bin", "abcd")
	write("gen-2/manifest.json", "{}")
	write("gen-2/nested/extra", "x")

	u, err := DiskUsage(root)
	if err != nil {
		t.Fatal(err)
	}
	if u.Total != 6+2+4+2+1 {
		t.Errorf("total = %d, want 15", u.Total)
	}
	if u.Generations["gen-1"] != 6 || u.Generations["gen-2"] != 3 {
		t.Errorf("generations = %v", u.Generations)
	}
	if _, ok := u.Generations["CURRENT"]; ok {
		t.Error("top-level files are not generations")
	}
}

func TestDiskUsage_MissingRoot(t *testing.T) {
	u, err := DiskUsage(filepath.Join(t.TempDir(), "nonexistent"))
	if err != nil {
		t.Fatal(err)
	}
	if u.Total != 0 || len(u.Generations) != 0 {
		t.Errorf("missing root usage = %+v", u)
	}

	u, err = DiskUsage("")
	if err != nil || u.Total != 0 {
		t.Errorf("empty root usage = %+v, %v", u, err)
	}
}
