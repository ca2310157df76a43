package addrfd

import (
	"io"
	"os"
	"testing"
)

func TestWrite(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if err := Write(int(w.Fd()), "localhost:1234"); err != nil {
		t.Fatal(err)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), "localhost:1234"; got != want {
		t.Fatalf("read %q, want %q", got, want)
	}
	if err := Write(-1, "ignored"); err != nil {
		t.Fatalf("Write(-1): %v", err)
	}
}
