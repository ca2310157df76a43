package whey

import (
	"runtime"
	"strings"
)

// Architectures maps GOARCH values to the machine names used by Python in
// platform tags and the platform_machine marker.
var Architectures = map[string]string{
	"amd64":   "x86_64",
	"arm64":   "aarch64",
	"386":     "i686",
	"ppc64le": "ppc64le",
	"s390x":   "s390x",
}

// Target describes the interpreter and platform wheels are built for.
type Target struct {
	PythonVersion string // e.g. 3.12.1
	GOOS          string
	GOARCH        string
}

// DefaultTarget returns a Target for the running platform.
func DefaultTarget(pythonVersion string) Target {
	return Target{
		PythonVersion: pythonVersion,
		GOOS:          runtime.GOOS,
		GOARCH:        runtime.GOARCH,
	}
}

func (t Target) machine() string {
	if m, ok := Architectures[t.GOARCH]; ok {
		if t.GOOS == "darwin" && t.GOARCH == "arm64" {
			return "arm64"
		}
		return m
	}
	return t.GOARCH
}

// pythonShort returns e.g. "312" for 3.12.1.
func (t Target) pythonShort() string {
	parts := strings.SplitN(t.PythonVersion, ".", 3)
	if len(parts) < 2 {
		return strings.Join(parts, "")
	}
	return parts[0] + parts[1]
}

// MarkerEnv returns the environment marker values describing t.
func (t Target) MarkerEnv() MarkerEnv {
	env := MarkerEnv{
		"implementation_name":            "cpython",
		"platform_python_implementation": "CPython",
		"python_full_version":            t.PythonVersion,
		"implementation_version":         t.PythonVersion,
		"platform_machine":               t.machine(),
		"platform_release":               "",
		"platform_version":               "",
		"extra":                          "",
	}
	if parts := strings.SplitN(t.PythonVersion, ".", 3); len(parts) >= 2 {
		env["python_version"] = parts[0] + "." + parts[1]
	} else {
		env["python_version"] = t.PythonVersion
	}
	switch t.GOOS {
	case "windows":
		env["os_name"], env["sys_platform"], env["platform_system"] = "nt", "win32", "Windows"
	case "darwin":
		env["os_name"], env["sys_platform"], env["platform_system"] = "posix", "darwin", "Darwin"
	case "":
	default:
		env["os_name"], env["sys_platform"], env["platform_system"] = "posix", t.GOOS, strings.ToUpper(t.GOOS[:1])+t.GOOS[1:]
	}
	return env
}

// SupportsPython reports whether the interpreter of t satisfies a
// Requires-Python specifier. Invalid specifiers are not satisfied.
func (t Target) SupportsPython(requiresPython string) bool {
	if requiresPython == "" {
		return true
	}
	spec, err := ParseSpecifier(requiresPython)
	if err != nil {
		return false
	}
	return spec.Allows(t.PythonVersion, true)
}

func (t Target) supportsTag(tag Tag) bool {
	short := t.pythonShort()
	switch tag.Interpreter {
	case "py3", "py" + short, "cp" + short:
	default:
		return false
	}
	switch tag.ABI {
	case "none", "abi3", "cp" + short:
	default:
		return false
	}
	if tag.Platform == "any" {
		return true
	}
	m := t.machine()
	switch t.GOOS {
	case "linux":
		return tag.Platform == "linux_"+m ||
			(strings.HasPrefix(tag.Platform, "manylinux") && strings.HasSuffix(tag.Platform, "_"+m))
	case "darwin":
		return strings.HasPrefix(tag.Platform, "macosx_") &&
			(strings.HasSuffix(tag.Platform, "_"+m) || strings.HasSuffix(tag.Platform, "_universal2"))
	case "windows":
		return (m == "x86_64" && tag.Platform == "win_amd64") || (m == "aarch64" && tag.Platform == "win_arm64")
	}
	return false
}

// Supports reports whether any tag of w can be installed on t.
func (t Target) Supports(w WheelName) bool {
	for _, tag := range w.Tags {
		if t.supportsTag(tag) {
			return true
		}
	}
	return false
}
