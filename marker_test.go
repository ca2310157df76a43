package whey

import "testing"

func TestEvaluateMarker(t *testing.T) {
	env := Target{PythonVersion: "3.12.1", GOOS: "linux", GOARCH: "amd64"}.MarkerEnv()
	for _, tt := range []struct {
		marker string
		want   bool
	}{
		{marker: `python_version >= "3.8"`, want: true},
		{marker: `python_version < "3.10"`, want: false},
		{marker: `python_full_version == "3.12.1"`, want: true},
		{marker: `sys_platform == "win32"`, want: false},
		{marker: `sys_platform != "win32" and platform_machine == "x86_64"`, want: true},
		{marker: `os_name == "nt" or (platform_system == "Linux" and implementation_name == "cpython")`, want: true},
		{marker: `"linux" in sys_platform`, want: true},
		{marker: `platform_machine not in "aarch64 ppc64le"`, want: true},
		{marker: `'3.12' == python_version`, want: true},
	} {
		t.Run(tt.marker, func(t *testing.T) {
			got, err := EvaluateMarker(tt.marker, env)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("EvaluateMarker(%s) = %v, want %v", tt.marker, got, tt.want)
			}
		})
	}
}

func TestEvaluateMarkerErrors(t *testing.T) {
	env := Target{PythonVersion: "3.12", GOOS: "linux", GOARCH: "amd64"}.MarkerEnv()
	for _, marker := range []string{
		`python_version >=`,
		`unknown_variable == "1"`,
		`(python_version == "3.12"`,
		`python_version == "3.12" garbage`,
		`sys_platform < "linux"`,
		`python_version == "3.12`,
	} {
		t.Run(marker, func(t *testing.T) {
			if _, err := EvaluateMarker(marker, env); err == nil {
				t.Fatalf("EvaluateMarker(%s) unexpectedly succeeded", marker)
			}
		})
	}
}
