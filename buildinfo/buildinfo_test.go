package buildinfo

import (
	"strings"
	"testing"
)

func TestFullVersion(t *testing.T) {
	oldVersion, oldCommit := Version, Commit
	defer func() { Version, Commit = oldVersion, oldCommit }()

	tests := []struct {
		version, commit string
		want            string
		dev             bool
	}{
		{"dev", "", "dev", true},
		{"1.2.0", "", "1.2.0", false},
		{"1.2.0", "abc1234", "1.2.0 (abc1234)", false},
	}
	for _, tt := range tests {
		Version, Commit = tt.version, tt.commit
		if got := FullVersion(); got != tt.want {
			t.Errorf("FullVersion() with %q/%q = %q, want %q", tt.version, tt.commit, got, tt.want)
		}
		if got := IsDev(); got != tt.dev {
			t.Errorf("IsDev() with %q = %v", tt.version, got)
		}
	}
}

func TestBuildInfo(t *testing.T) {
	oldBuilt := BuildTime
	defer func() { BuildTime = oldBuilt }()

	BuildTime = ""
	info := BuildInfo()
	if !strings.HasPrefix(info, Name+" ") {
		t.Errorf("BuildInfo() should start with the name, got %q", info)
	}
	if !strings.Contains(info, "Go: ") || !strings.Contains(info, "Protocol: 1") {
		t.Errorf("BuildInfo() missing runtime lines: %q", info)
	}
	if strings.Contains(info, "Built:") {
		t.Error("BuildInfo() should omit an unset build time")
	}

	BuildTime = "2024-01-01T00:00:00Z"
	if !strings.HasSuffix(BuildInfo(), "Built: 2024-01-01T00:00:00Z") {
		t.Error("BuildInfo() should end with the build time")
	}
}
