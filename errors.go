package whey

import "fmt"

// NotFoundError is returned when no index offers a distribution matching a
// requirement, or when an expected file or directory is missing on disk.
type NotFoundError struct {
	What  string   // e.g. "sdist for pkg-a>=1.0"
	Where []string // indexes or directories searched
}

func (e *NotFoundError) Error() string {
	if len(e.Where) == 0 {
		return fmt.Sprintf("%s: not found", e.What)
	}
	return fmt.Sprintf("%s: not found in %v", e.What, e.Where)
}

// PatchConflictError is returned when a patch does not apply cleanly.
type PatchConflictError struct {
	Patch string
	File  string
	Err   error
}

func (e *PatchConflictError) Error() string {
	return fmt.Sprintf("patch %s does not apply to %s: %v", e.Patch, e.File, e.Err)
}

func (e *PatchConflictError) Unwrap() error { return e.Err }

// EnvironmentSetupError is returned when a build environment cannot be
// created or a build-time dependency cannot be installed into it. Output holds
// the installer output, which is also kept in LogFile if set.
type EnvironmentSetupError struct {
	Item    WorkItem
	Output  string
	LogFile string
	Err     error
}

func (e *EnvironmentSetupError) Error() string {
	return fmt.Sprintf("setting up build environment for %s: %v%s", e.Item, e.Err, seeLog(e.LogFile))
}

func seeLog(logFile string) string {
	if logFile == "" {
		return ""
	}
	return " (output in " + logFile + ")"
}

func (e *EnvironmentSetupError) Unwrap() error { return e.Err }

// BuildError is returned when the build backend fails or does not produce
// exactly one artifact. Output holds the backend output, which is also kept in
// LogFile if set.
type BuildError struct {
	Item    WorkItem
	Output  string
	LogFile string
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("building %s: %v%s", e.Item, e.Err, seeLog(e.LogFile))
}

func (e *BuildError) Unwrap() error { return e.Err }

// ConfigurationError is returned for missing or invalid settings, and for
// dependency cycles between build-time requirements.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Stage names a step of processing one WorkItem.
type Stage string

const (
	StageResolve          Stage = "resolve"
	StagePrebuilt         Stage = "prebuilt"
	StageDownload         Stage = "download"
	StagePrepareSource    Stage = "prepare-source"
	StageBuildSystemDeps  Stage = "build-system-deps"
	StagePrepareBuild     Stage = "prepare-build"
	StageBuildBackendDeps Stage = "build-backend-deps"
	StageBuild            Stage = "build"
	StageInstallDeps      Stage = "install-deps"
)

// StageError attributes Err to the stage of the WorkItem that failed.
type StageError struct {
	Item  WorkItem
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Item, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
