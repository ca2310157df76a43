package trace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/distr1/whey"
	"github.com/google/go-cmp/cmp"
)

func TestCreate(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "trace.json")
	if err := Create(fn); err != nil {
		t.Fatal(err)
	}
	item := whey.NewWorkItem("pkg-a", "1.0", whey.DefaultVariant)
	for _, stage := range []whey.Stage{whey.StageDownload, whey.StageBuild} {
		Event(stage, item).Done()
	}
	if err := Close(); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(fn)
	if err != nil {
		t.Fatal(err)
	}
	var events []PendingEvent
	if err := json.Unmarshal(b, &events); err != nil {
		t.Fatalf("trace file is not valid JSON: %v\n%s", err, b)
	}
	var names []string
	for _, ev := range events {
		if ev.Name == "" {
			continue // terminator
		}
		names = append(names, ev.Name)
		if got, want := ev.Args["version"], "1.0"; got != want {
			t.Errorf("%s: version = %q, want %q", ev.Name, got, want)
		}
	}
	if diff := cmp.Diff([]string{"download pkg-a", "build pkg-a"}, names); diff != "" {
		t.Fatalf("events: diff (-want +got):\n%s", diff)
	}
}
