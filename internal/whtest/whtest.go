// Package whtest provides fixtures for tests: source archives, wheels and a
// whey serve process.
package whtest

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/distr1/whey"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/pgzip"
)

// Serve starts whey serve for wheelsRepo and returns its listening address.
func Serve(ctx context.Context, wheelsRepo string) (addr string, cleanup func(), _ error) {
	serve := exec.CommandContext(ctx, "whey",
		"-addrfd=3", // Go dup2()s ExtraFiles to 3 and onwards
		"-wheels-repo="+wheelsRepo,
		"serve",
		"-listen=localhost:0",
	)
	r, w, err := os.Pipe()
	if err != nil {
		return "", nil, err
	}
	serve.Stderr = os.Stderr
	serve.Stdout = os.Stdout
	serve.ExtraFiles = []*os.File{w}
	if err := serve.Start(); err != nil {
		return "", nil, fmt.Errorf("%v: %v", serve.Args, err)
	}
	cleanup = func() {
		serve.Process.Kill()
		serve.Wait()
	}

	// Close the write end of the pipe in the parent process.
	if err := w.Close(); err != nil {
		return "", nil, err
	}

	// Reading the address doubles as readiness notification.
	b, err := io.ReadAll(r)
	if err != nil {
		return "", nil, err
	}
	return string(b), cleanup, nil
}

// RemoveAll wraps os.RemoveAll and fails the test on failure.
func RemoveAll(t testing.TB, path string) {
	if err := os.RemoveAll(path); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Sdist writes <dir>/<dist>-<version>.tar.gz containing files below a
// <dist>-<version>/ top-level directory, and returns its path.
func Sdist(t testing.TB, dir, name, version string, files map[string]string) string {
	t.Helper()
	base := whey.DistName(name) + "-" + version
	fn := filepath.Join(dir, base+".tar.gz")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(fn)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz := pgzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	if err := tw.WriteHeader(&tar.Header{Name: base + "/", Typeflag: tar.TypeDir, Mode: 0755}); err != nil {
		t.Fatal(err)
	}
	for _, name := range sortedKeys(files) {
		contents := files[name]
		if err := tw.WriteHeader(&tar.Header{
			Name:     base + "/" + name,
			Typeflag: tar.TypeReg,
			Mode:     0644,
			Size:     int64(len(contents)),
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(tw, contents); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return fn
}

// WheelFilename returns the file name of a pure-Python wheel.
func WheelFilename(name, version string) string {
	return whey.DistName(name) + "-" + version + "-py3-none-any.whl"
}

// Metadata renders a METADATA file declaring requires as Requires-Dist.
func Metadata(name, version string, requires []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Metadata-Version: 2.1\nName: %s\nVersion: %s\n", name, version)
	for _, r := range requires {
		fmt.Fprintf(&b, "Requires-Dist: %s\n", r)
	}
	b.WriteString("\n")
	return b.String()
}

// Wheel writes a pure-Python wheel for name and version into dir, declaring
// requires as runtime requirements, and returns its path.
func Wheel(t testing.TB, dir, name, version string, requires []string) string {
	t.Helper()
	fn, err := WriteWheel(dir, name, version, requires)
	if err != nil {
		t.Fatal(err)
	}
	return fn
}

// WriteWheel is like Wheel, but returns errors. It is usable from fake build
// backends, which have no testing.TB.
func WriteWheel(dir, name, version string, requires []string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	fn := filepath.Join(dir, WheelFilename(name, version))
	f, err := os.Create(fn)
	if err != nil {
		return "", err
	}
	defer f.Close()
	distInfo := whey.DistName(name) + "-" + version + ".dist-info/"
	zw := zip.NewWriter(f)
	for _, file := range []struct{ name, contents string }{
		{distInfo + "METADATA", Metadata(name, version, requires)},
		{distInfo + "WHEEL", "Wheel-Version: 1.0\nRoot-Is-Purelib: true\nTag: py3-none-any\n"},
	} {
		w, err := zw.Create(file.name)
		if err != nil {
			return "", err
		}
		if _, err := io.WriteString(w, file.contents); err != nil {
			return "", err
		}
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return fn, f.Close()
}
