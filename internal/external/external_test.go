package external

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

func testRunner() *Runner {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)
	log.SetOutput(os.Stderr)
	return &Runner{Log: log}
}

func TestRunEnviron(t *testing.T) {
	out, err := testRunner().Run(context.Background(), Cmd{
		Args: []string{"sh", "-c", "echo $BLAH"},
		Env:  map[string]string{"BLAH": "test"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := out, "test\n"; got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestRunLogFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "test.log")
	out, err := testRunner().Run(context.Background(), Cmd{
		Args:    []string{"sh", "-c", "echo $BLAH; echo oops >&2"},
		Env:     map[string]string{"BLAH": "test"},
		LogFile: logFile,
	})
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), out; got != want {
		t.Fatalf("log file contents = %q, want %q", got, want)
	}
	if got, want := out, "test\noops\n"; got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestRunFailure(t *testing.T) {
	out, err := testRunner().Run(context.Background(), Cmd{
		Args: []string{"sh", "-c", "echo broken; exit 3"},
	})
	var cerr *CommandError
	if !xerrors.As(err, &cerr) {
		t.Fatalf("Run: got %v, want *CommandError", err)
	}
	if got, want := cerr.ExitCode, 3; got != want {
		t.Errorf("ExitCode = %d, want %d", got, want)
	}
	if got, want := cerr.Output, "broken\n"; got != want {
		t.Errorf("Output = %q, want %q", got, want)
	}
	if out != cerr.Output {
		t.Errorf("returned output %q differs from error output %q", out, cerr.Output)
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testRunner().Run(ctx, Cmd{Args: []string{"sleep", "10"}})
	if !xerrors.Is(err, context.Canceled) {
		t.Fatalf("Run: got %v, want context.Canceled", err)
	}
}
