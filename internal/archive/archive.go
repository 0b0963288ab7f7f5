// Package archive implements ArchiveCodec: a format-detecting extractor
// for plain, gzip and bzip2 tarballs, zip, deb (ar-wrapped tar), and, via
// an external-tool seam, xz and zstd tarballs, rar and 7z.
//
// Tar and zip extraction streams decompression rather than buffering the
// whole file, and preserves POSIX file modes. A .deb is the exception: its
// ar members are read whole into memory and the data member is written to
// a temporary file before it is extracted. Format dispatch is by filename suffix
// only; an unrecognized suffix is *errkind.UnknownArchiveFormat.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gentoo-go/emerge/internal/errkind"
	"github.com/pkg/errors"
)

// Format is the detected archive kind.
type Format int

const (
	FormatUnknown Format = iota
	FormatTarPlain
	FormatTarGz
	FormatTarBz2
	FormatTarXz
	FormatTarZstd
	FormatZip
	FormatDeb
	FormatRar
	FormatSevenZip
)

// ExternalTool, when non-empty, names a host binary Extract should shell
// out to for formats this package cannot decode natively (.tar.xz,
// .tar.zst, rar, 7z). It is
// the same kind of named-but-unimplemented seam as PhaseEngine's
// ShellHost: the core never bundles a rar/7z decoder.
type ExternalTool func(format Format, archivePath, destDir string) error

// DetectFormat dispatches purely on filename suffix, longest match first.
func DetectFormat(name string) Format {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"), strings.HasSuffix(lower, ".tbz"):
		return FormatTarBz2
	case strings.HasSuffix(lower, ".tar.xz"), strings.HasSuffix(lower, ".txz"):
		return FormatTarXz
	case strings.HasSuffix(lower, ".tar.zst"):
		return FormatTarZstd
	case strings.HasSuffix(lower, ".tar"):
		return FormatTarPlain
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	case strings.HasSuffix(lower, ".deb"):
		return FormatDeb
	case strings.HasSuffix(lower, ".rar"):
		return FormatRar
	case strings.HasSuffix(lower, ".7z"):
		return FormatSevenZip
	default:
		return FormatUnknown
	}
}

// Extract unpacks archivePath into destDir, creating it if necessary.
func Extract(archivePath, destDir string, ext ExternalTool) error {
	format := DetectFormat(archivePath)
	if format == FormatUnknown {
		return &errkind.UnknownArchiveFormat{Path: archivePath}
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return errors.Wrap(err, "creating extraction directory")
	}

	switch format {
	case FormatTarPlain, FormatTarGz, FormatTarBz2:
		f, err := os.Open(archivePath)
		if err != nil {
			return errors.Wrap(err, "opening archive")
		}
		defer f.Close()
		r, err := decompressReader(format, f)
		if err != nil {
			return err
		}
		return untar(r, destDir)
	case FormatZip:
		return unzip(archivePath, destDir)
	case FormatDeb:
		return unDeb(archivePath, destDir, ext)
	case FormatTarXz, FormatTarZstd, FormatRar, FormatSevenZip:
		if ext == nil {
			return errors.Errorf("%s requires an external extraction tool, none configured", archivePath)
		}
		return ext(format, archivePath, destDir)
	default:
		return &errkind.UnknownArchiveFormat{Path: archivePath}
	}
}

func decompressReader(format Format, r io.Reader) (io.Reader, error) {
	switch format {
	case FormatTarGz:
		gz, err := gzip.NewReader(bufio.NewReader(r))
		if err != nil {
			return nil, errors.Wrap(err, "opening gzip stream")
		}
		return gz, nil
	case FormatTarBz2:
		return bzip2.NewReader(bufio.NewReader(r)), nil
	default:
		return bufio.NewReader(r), nil
	}
}

// untar streams entries directly from the tar reader into destDir,
// preserving file mode on POSIX and never buffering a whole entry's
// content beyond what io.Copy needs.
func untar(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "reading tar entry")
		}
		target := filepath.Join(destDir, filepath.Clean("/"+hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode&0o7777)); err != nil {
				return errors.Wrapf(err, "creating directory %s", hdr.Name)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return errors.Wrapf(err, "creating parent directory for %s", hdr.Name)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode&0o7777))
			if err != nil {
				return errors.Wrapf(err, "creating file %s", hdr.Name)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return errors.Wrapf(err, "writing file %s", hdr.Name)
			}
			out.Close()
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return errors.Wrapf(err, "creating parent directory for symlink %s", hdr.Name)
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return errors.Wrapf(err, "creating symlink %s", hdr.Name)
			}
		default:
			// Device nodes, fifos etc. are not meaningful inside a
			// package build tree; skip rather than fail the unpack.
		}
	}
}

func unzip(archivePath, destDir string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return errors.Wrap(err, "opening zip archive")
	}
	defer zr.Close()

	for _, f := range zr.File {
		target := filepath.Join(destDir, filepath.Clean("/"+f.Name))
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, f.Mode()); err != nil {
				return errors.Wrapf(err, "creating directory %s", f.Name)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.Wrapf(err, "creating parent directory for %s", f.Name)
		}
		rc, err := f.Open()
		if err != nil {
			return errors.Wrapf(err, "opening zip entry %s", f.Name)
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, f.Mode())
		if err != nil {
			rc.Close()
			return errors.Wrapf(err, "creating file %s", f.Name)
		}
		_, copyErr := io.Copy(out, rc)
		out.Close()
		rc.Close()
		if copyErr != nil {
			return errors.Wrapf(copyErr, "writing file %s", f.Name)
		}
	}
	return nil
}

// ar global header and per-entry fixed-width header, as used by .deb
// files. The standard library has no ar reader, so this is a small
// hand-rolled parser: an 8-byte magic plus a sequence of 60-byte entry
// headers (name, mtime, uid, gid, mode, size, end-marker) each followed by
// the (even-padded) entry body.
const arMagic = "!<arch>\n"

type arHeader struct {
	name string
	size int64
}

func readAr(r *bufio.Reader) ([]arHeader, func(h arHeader) (io.Reader, error), error) {
	magic := make([]byte, len(arMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != arMagic {
		return nil, nil, errors.New("not an ar archive")
	}

	var headers []arHeader
	bodies := map[string][]byte{}
	for {
		hdr := make([]byte, 60)
		n, err := io.ReadFull(r, hdr)
		if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
			break
		}
		if err != nil {
			return nil, nil, errors.Wrap(err, "reading ar header")
		}
		name := strings.TrimRight(string(hdr[0:16]), " ")
		name = strings.TrimSuffix(name, "/")
		sizeStr := strings.TrimSpace(string(hdr[48:58]))
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "parsing ar entry size for %s", name)
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, nil, errors.Wrapf(err, "reading ar entry body for %s", name)
		}
		if size%2 == 1 {
			r.Discard(1) // entries are 2-byte aligned
		}
		headers = append(headers, arHeader{name: name, size: size})
		bodies[name] = body
	}
	return headers, func(h arHeader) (io.Reader, error) {
		b, ok := bodies[h.name]
		if !ok {
			return nil, fmt.Errorf("ar entry %s not found", h.name)
		}
		return strings.NewReader(string(b)), nil
	}, nil
}

// unDeb reads the ar container, locates the data.tar.* member, and hands
// it back to Extract recursively.
func unDeb(archivePath, destDir string, ext ExternalTool) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return errors.Wrap(err, "opening deb archive")
	}
	defer f.Close()

	headers, open, err := readAr(bufio.NewReader(f))
	if err != nil {
		return errors.Wrap(err, "parsing deb ar container")
	}

	var dataMember string
	for _, h := range headers {
		if strings.HasPrefix(h.name, "data.tar") {
			dataMember = h.name
			break
		}
	}
	if dataMember == "" {
		return &errkind.InvalidContainer{Path: archivePath, Reason: "no data.tar* member found"}
	}

	for _, h := range headers {
		if h.name != dataMember {
			continue
		}
		body, err := open(h)
		if err != nil {
			return err
		}
		tmp, err := os.CreateTemp("", "emerge-deb-data-*"+pseudoSuffix(dataMember))
		if err != nil {
			return errors.Wrap(err, "creating temp file for deb data member")
		}
		defer os.Remove(tmp.Name())
		if _, err := io.Copy(tmp, body); err != nil {
			tmp.Close()
			return errors.Wrap(err, "extracting deb data member")
		}
		tmp.Close()
		return Extract(tmp.Name(), destDir, ext)
	}
	return &errkind.InvalidContainer{Path: archivePath, Reason: "data member disappeared"}
}

// pseudoSuffix maps an ar member name like "data.tar.gz" to a suffix
// DetectFormat recognizes, since the temp file itself has a random name.
func pseudoSuffix(member string) string {
	if i := strings.Index(member, ".tar"); i >= 0 {
		return member[i:]
	}
	return ".tar"
}
