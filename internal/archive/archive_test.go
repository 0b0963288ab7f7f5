package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
)

func TestDetectFormat(t *testing.T) {
	cases := map[string]Format{
		"foo.tar.gz":  FormatTarGz,
		"foo.tgz":     FormatTarGz,
		"foo.tar.bz2": FormatTarBz2,
		"foo.tbz2":    FormatTarBz2,
		"foo.tar.xz":  FormatTarXz,
		"foo.tar":     FormatTarPlain,
		"foo.zip":     FormatZip,
		"foo.deb":     FormatDeb,
		"foo.rar":     FormatRar,
		"foo.7z":      FormatSevenZip,
		"foo.txt":     FormatUnknown,
	}
	for name, want := range cases {
		if got := DetectFormat(name); got != want {
			t.Errorf("DetectFormat(%q) = %v, want %v", name, got, want)
		}
	}
}

func buildTarGz(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range entries {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	tw.Close()
	gz.Close()
	return buf.Bytes()
}

func TestExtractTarGz(t *testing.T) {
	blob := buildTarGz(t, map[string]string{
		"a.txt":       "hello",
		"dir/b.txt":   "world",
	})
	srcDir := t.TempDir()
	archivePath := filepath.Join(srcDir, "pkg.tar.gz")
	if err := os.WriteFile(archivePath, blob, 0o644); err != nil {
		t.Fatal(err)
	}
	destDir := t.TempDir()
	if err := Extract(archivePath, destDir, nil); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(destDir, "a.txt"))
	if err != nil || string(got) != "hello" {
		t.Errorf("a.txt: got %q, err %v", got, err)
	}
	got, err = os.ReadFile(filepath.Join(destDir, "dir", "b.txt"))
	if err != nil || string(got) != "world" {
		t.Errorf("dir/b.txt: got %q, err %v", got, err)
	}
}

func TestExtractUnknownFormat(t *testing.T) {
	srcDir := t.TempDir()
	archivePath := filepath.Join(srcDir, "pkg.mystery")
	if err := os.WriteFile(archivePath, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Extract(archivePath, t.TempDir(), nil); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func buildAr(t *testing.T, members map[string][]byte, order []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(arMagic)
	for _, name := range order {
		body := members[name]
		hdr := make([]byte, 60)
		copy(hdr[0:16], padRight(name+"/", 16))
		copy(hdr[16:28], padRight("0", 12))
		copy(hdr[28:34], padRight("0", 6))
		copy(hdr[34:40], padRight("0", 6))
		copy(hdr[40:48], padRight("644", 8))
		copy(hdr[48:58], padRight(itoa(len(body)), 10))
		copy(hdr[58:60], "`\n")
		buf.Write(hdr)
		buf.Write(body)
		if len(body)%2 == 1 {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}

func padRight(s string, width int) string {
	for len(s) < width {
		s += " "
	}
	return s[:width]
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestExtractDeb(t *testing.T) {
	dataTarGz := buildTarGz(t, map[string]string{"usr/bin/tool": "binary"})
	controlTarGz := buildTarGz(t, map[string]string{"control": "Package: tool\n"})
	arBlob := buildAr(t, map[string][]byte{
		"debian-binary":  []byte("2.0\n"),
		"control.tar.gz": controlTarGz,
		"data.tar.gz":    dataTarGz,
	}, []string{"debian-binary", "control.tar.gz", "data.tar.gz"})

	srcDir := t.TempDir()
	archivePath := filepath.Join(srcDir, "pkg.deb")
	if err := os.WriteFile(archivePath, arBlob, 0o644); err != nil {
		t.Fatal(err)
	}
	destDir := t.TempDir()
	if err := Extract(archivePath, destDir, nil); err != nil {
		t.Fatalf("Extract deb: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(destDir, "usr", "bin", "tool"))
	if err != nil || string(got) != "binary" {
		t.Errorf("usr/bin/tool: got %q, err %v", got, err)
	}
}

func TestExtractRequiresExternalToolForXz(t *testing.T) {
	srcDir := t.TempDir()
	archivePath := filepath.Join(srcDir, "pkg.tar.xz")
	if err := os.WriteFile(archivePath, []byte("not really xz"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Extract(archivePath, t.TempDir(), nil); err == nil {
		t.Fatal("expected error when no external tool is configured for .tar.xz")
	}
}
