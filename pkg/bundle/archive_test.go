package bundle

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha1" //nolint:gosec
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/stackmgr/pkg/engine"
)

type tarEntry struct {
	name     string
	body     string
	typeflag byte
	link     string
}

// writeArchive builds a gzipped tar in a temp dir. Entries are written in
// name order with a fixed mtime so equal contents give equal hashes.
func writeArchive(t *testing.T, name string, entries []tarEntry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create archive: %v", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })
	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.name,
			Mode:     0o644,
			ModTime:  time.Unix(0, 0),
			Typeflag: e.typeflag,
			Linkname: e.link,
		}
		if hdr.Typeflag == 0 {
			hdr.Typeflag = tar.TypeReg
		}
		if hdr.Typeflag == tar.TypeReg {
			hdr.Size = int64(len(e.body))
		}
		if hdr.Typeflag == tar.TypeDir {
			hdr.Mode = 0o755
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("Failed to write header: %v", err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("Failed to write body: %v", err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Failed to close tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("Failed to close gzip: %v", err)
	}
	return path
}

// writeBundleArchive packs a map of file name to content.
func writeBundleArchive(t *testing.T, name string, files map[string]string) string {
	t.Helper()
	var entries []tarEntry
	for n, body := range files {
		entries = append(entries, tarEntry{name: n, body: body})
	}
	return writeArchive(t, name, entries)
}

func TestFileHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	data := []byte(strings.Repeat("stackmgr", 5000))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	got, err := FileHash(path)
	if err != nil {
		t.Fatalf("FileHash failed: %v", err)
	}
	sum := sha1.Sum(data) //nolint:gosec
	if want := hex.EncodeToString(sum[:]); got != want {
		t.Errorf("Expected hash %s, got %s", want, got)
	}

	_, err = FileHash(filepath.Join(t.TempDir(), "missing.tgz"))
	if !engine.HasCode(err, engine.ErrCodeBundle) {
		t.Fatalf("Expected BUNDLE_ERROR, got %v", err)
	}
	if !strings.Contains(err.Error(), "Can't find bundle file") {
		t.Errorf("Unexpected message: %v", err)
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		entries []tarEntry
		wantErr bool
		check   func(t *testing.T, dest string)
	}{
		{
			name: "nested files",
			entries: []tarEntry{
				{name: "./", typeflag: tar.TypeDir},
				{name: "config.yaml", body: "type: provider\n"},
				{name: "playbooks/install.yaml", body: "- hosts: all\n"},
			},
			check: func(t *testing.T, dest string) {
				body, err := os.ReadFile(filepath.Join(dest, "playbooks", "install.yaml"))
				if err != nil {
					t.Fatalf("Expected nested file: %v", err)
				}
				if string(body) != "- hosts: all\n" {
					t.Errorf("Unexpected body %q", body)
				}
			},
		},
		{
			name:    "path traversal",
			entries: []tarEntry{{name: "../evil.sh", body: "rm -rf /"}},
			wantErr: true,
		},
		{
			name: "symlink escaping root",
			entries: []tarEntry{
				{name: "config.yaml", body: "x"},
				{name: "link", typeflag: tar.TypeSymlink, link: "../../etc/passwd"},
			},
			wantErr: true,
		},
		{
			name: "relative symlink",
			entries: []tarEntry{
				{name: "scripts/run.sh", body: "echo"},
				{name: "run.sh", typeflag: tar.TypeSymlink, link: "scripts/run.sh"},
			},
			check: func(t *testing.T, dest string) {
				target, err := os.Readlink(filepath.Join(dest, "run.sh"))
				if err != nil {
					t.Fatalf("Expected symlink: %v", err)
				}
				if target != "scripts/run.sh" {
					t.Errorf("Unexpected link target %q", target)
				}
			},
		},
		{
			name:    "empty archive",
			entries: nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archive := writeArchive(t, "bundle.tgz", tt.entries)
			dest := filepath.Join(t.TempDir(), "out")
			err := Extract(archive, dest)
			if tt.wantErr {
				if !engine.HasCode(err, engine.ErrCodeBundle) {
					t.Fatalf("Expected BUNDLE_ERROR, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Extract failed: %v", err)
			}
			if tt.check != nil {
				tt.check(t, dest)
			}
		})
	}
}

func TestExtract_PlainTar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.tar")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create: %v", err)
	}
	tw := tar.NewWriter(f)
	body := "type: cluster\n"
	tw.WriteHeader(&tar.Header{Name: "config.yaml", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg})
	tw.Write([]byte(body))
	tw.Close()
	f.Close()

	dest := t.TempDir()
	if err := Extract(path, dest); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "config.yaml")); err != nil {
		t.Errorf("Expected config.yaml: %v", err)
	}
}

func TestExtract_NotAnArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundle.tgz")
	if err := os.WriteFile(path, []byte("definitely not a tarball, just some text that is long enough"), 0o600); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	err := Extract(path, t.TempDir())
	if !engine.HasCode(err, engine.ErrCodeBundle) {
		t.Fatalf("Expected BUNDLE_ERROR, got %v", err)
	}
}
