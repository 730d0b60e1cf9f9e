package bundle

import (
	"archive/tar"
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"crypto/sha1" //nolint:gosec // bundle identity, not a security boundary
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/stackmgr/pkg/engine"
)

const hashChunkSize = 16 * 1024

// FileHash returns the SHA-1 hex digest of a bundle archive.
func FileHash(path string) (string, error) {
	// #nosec G304 -- bundle path is provided by the local operator.
	f, err := os.Open(path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return "", engine.Errorf(engine.ErrCodeBundle, "Can't find bundle file: %s", path)
		case errors.Is(err, fs.ErrPermission):
			return "", engine.Errorf(engine.ErrCodeBundle, "Can't open bundle file: %s", path)
		}
		return "", engine.Errorf(engine.ErrCodeBundle, "Can't open bundle file: %s", path).Wrap(err)
	}
	defer f.Close()

	h := sha1.New() //nolint:gosec
	buf := make([]byte, hashChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", engine.Errorf(engine.ErrCodeBundle, "Can't read bundle file: %s", path).Wrap(err)
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Extract unpacks a plain, gzip or bzip2 compressed tar archive into dest.
func Extract(archive, dest string) error {
	// #nosec G304 -- bundle path is provided by the local operator.
	f, err := os.Open(archive)
	if err != nil {
		return engine.Errorf(engine.ErrCodeBundle, "Can't open bundle tar file: %s", archive).Wrap(err)
	}
	defer f.Close()

	r, err := decompress(f)
	if err != nil {
		return engine.Errorf(engine.ErrCodeBundle, "Can't open bundle tar file: %s", archive).Wrap(err)
	}

	if err := os.MkdirAll(dest, 0o750); err != nil {
		return fmt.Errorf("failed to create bundle directory: %w", err)
	}

	tr := tar.NewReader(r)
	entries := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return engine.Errorf(engine.ErrCodeBundle, "Can't open bundle tar file: %s", archive).Wrap(err)
		}
		entries++

		target, skip, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return engine.Errorf(engine.ErrCodeBundle, "Bad entry in bundle tar file %s", archive).Wrap(err)
		}
		if skip {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if !insideRoot(dest, filepath.Join(filepath.Dir(target), hdr.Linkname)) || filepath.IsAbs(hdr.Linkname) {
				return engine.Errorf(engine.ErrCodeBundle, "Bad link %q in bundle tar file %s", hdr.Name, archive)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}
	if entries == 0 {
		return engine.Errorf(engine.ErrCodeBundle, "Can't open bundle tar file: %s", archive)
	}
	return nil
}

func decompress(f io.Reader) (io.Reader, error) {
	br := bufio.NewReader(f)
	magic, err := br.Peek(3)
	if err != nil && err != io.EOF {
		return nil, err
	}
	switch {
	case len(magic) >= 2 && magic[0] == 0x1f && magic[1] == 0x8b:
		return gzip.NewReader(br)
	case len(magic) >= 3 && string(magic) == "BZh":
		return bzip2.NewReader(br), nil
	}
	return br, nil
}

func writeFile(target string, r io.Reader, hdr *tar.Header) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return err
	}
	mode := hdr.FileInfo().Mode().Perm() | 0o600
	// #nosec G304 -- target path is validated by safeJoin.
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.CopyN(out, r, hdr.Size); err != nil && !errors.Is(err, io.EOF) {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// safeJoin resolves an archive member below base. skip is set for the
// archive root entry.
func safeJoin(base, name string) (target string, skip bool, err error) {
	clean := filepath.Clean(strings.TrimSpace(name))
	if clean == "." || clean == "" {
		return "", true, nil
	}
	if filepath.IsAbs(clean) {
		return "", false, fmt.Errorf("absolute archive path: %s", name)
	}
	target = filepath.Join(base, clean)
	if !insideRoot(base, target) {
		return "", false, fmt.Errorf("invalid archive path: %s", name)
	}
	return target, false, nil
}

func insideRoot(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}
