package whey

import "testing"

func TestCompareVersions(t *testing.T) {
	for _, tt := range []struct {
		a, b string
		want int
	}{
		{a: "1.0", b: "1.0.0", want: 0},
		{a: "2.1", b: "2.0", want: 1},
		{a: "2.0rc1", b: "2.0", want: -1},
		{a: "1.10", b: "1.9", want: 1},
		{a: "1!0.1", b: "2.0", want: 1},
		{a: "not-a-version", b: "0.1", want: -1},
	} {
		t.Run(tt.a+" vs "+tt.b, func(t *testing.T) {
			if got := CompareVersions(tt.a, tt.b); got != tt.want {
				t.Fatalf("CompareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestSpecifierAllows(t *testing.T) {
	for _, tt := range []struct {
		spec       string
		version    string
		prerelease bool
		want       bool
	}{
		{spec: "", version: "1.0", want: true},
		{spec: "", version: "1.0rc1", want: false},
		{spec: "", version: "1.0rc1", prerelease: true, want: true},
		{spec: ">=2.0", version: "2.1", want: true},
		{spec: ">=2.0", version: "1.9", want: false},
		{spec: ">=2.0,<3", version: "3.0", want: false},
		{spec: "==1.0", version: "1.0", want: true},
		{spec: "~=1.4", version: "1.9", want: true},
		{spec: "~=1.4", version: "2.0", want: false},
		{spec: ">=2.0rc1", version: "2.0rc2", want: true},
		{spec: ">=2.0", version: "2.1b1", want: false},
	} {
		t.Run(tt.spec+" "+tt.version, func(t *testing.T) {
			s, err := ParseSpecifier(tt.spec)
			if err != nil {
				t.Fatal(err)
			}
			if got := s.Allows(tt.version, tt.prerelease); got != tt.want {
				t.Fatalf("%q.Allows(%q, %v) = %v, want %v", tt.spec, tt.version, tt.prerelease, got, tt.want)
			}
		})
	}
}

func TestParseSpecifierInvalid(t *testing.T) {
	if _, err := ParseSpecifier(">>1.0"); err == nil {
		t.Fatalf("ParseSpecifier(>>1.0) unexpectedly succeeded")
	}
}
