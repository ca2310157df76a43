package ledger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/distr1/whey"
	"github.com/distr1/whey/internal/whtest"
	"github.com/google/go-cmp/cmp"
)

func TestLedger(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	l, err := Open(filepath.Join(tmp, "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	item := whey.NewWorkItem("pkg-a", "1.0", whey.DefaultVariant)
	if _, ok, err := l.Lookup(ctx, item, ""); err != nil || ok {
		t.Fatalf("Lookup before Record = %v, %v, want false, nil", ok, err)
	}

	wheel := whtest.Wheel(t, tmp, "pkg-a", "1.0", nil)
	if err := l.Record(ctx, item, wheel); err != nil {
		t.Fatal(err)
	}
	got, ok, err := l.Lookup(ctx, item, "")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("Lookup after Record: not found")
	}
	if diff := cmp.Diff(whey.Artifact{Item: item, Path: wheel}, got); diff != "" {
		t.Fatalf("Lookup: diff (-want +got):\n%s", diff)
	}

	// Another variant of the same version is a different WorkItem.
	gpu := whey.NewWorkItem("pkg-a", "1.0", "gpu")
	if _, ok, err := l.Lookup(ctx, gpu, ""); err != nil || ok {
		t.Fatalf("Lookup(gpu) = %v, %v, want false, nil", ok, err)
	}

	entries, err := l.Entries(ctx, whey.DefaultVariant)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(entries), 1; got != want {
		t.Fatalf("Entries: got %d, want %d", got, want)
	}
	digest, _, err := Digest(wheel)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := entries[0].Digest, digest; got != want {
		t.Fatalf("Entries[0].Digest = %q, want %q", got, want)
	}
}

func TestLookupStale(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	l, err := Open(filepath.Join(tmp, "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	for _, tt := range []struct {
		name   string
		modify func(path string) error
	}{
		{
			name:   "removed",
			modify: os.Remove,
		},
		{
			name: "modified",
			modify: func(path string) error {
				return os.WriteFile(path, []byte("not a wheel"), 0644)
			},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			item := whey.NewWorkItem("pkg-"+tt.name, "1.0", whey.DefaultVariant)
			wheel := whtest.Wheel(t, t.TempDir(), item.Name, item.Version, nil)
			if err := l.Record(ctx, item, wheel); err != nil {
				t.Fatal(err)
			}
			if err := tt.modify(wheel); err != nil {
				t.Fatal(err)
			}
			if _, ok, err := l.Lookup(ctx, item, ""); err != nil || ok {
				t.Fatalf("Lookup = %v, %v, want false, nil", ok, err)
			}
			if _, ok, err := l.Get(ctx, item); err != nil || ok {
				t.Fatalf("stale entry not removed: Get = %v, %v", ok, err)
			}
		})
	}
}

func TestLookupOtherDir(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	l, err := Open(filepath.Join(tmp, "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	item := whey.NewWorkItem("pkg-a", "1.0", whey.DefaultVariant)
	out := filepath.Join(tmp, "a", "cpu", "downloads")
	wheel := whtest.Wheel(t, out, item.Name, item.Version, nil)
	if err := l.Record(ctx, item, wheel); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := l.Lookup(ctx, item, out+"/"); err != nil || !ok {
		t.Fatalf("Lookup(%s) = %v, %v, want true, nil", out, ok, err)
	}
	other := filepath.Join(tmp, "b", "cpu", "downloads")
	if _, ok, err := l.Lookup(ctx, item, other); err != nil || ok {
		t.Fatalf("Lookup(%s) = %v, %v, want false, nil", other, ok, err)
	}
	if _, ok, err := l.Get(ctx, item); err != nil || ok {
		t.Fatalf("entry of another output directory not removed: Get = %v, %v", ok, err)
	}
}
