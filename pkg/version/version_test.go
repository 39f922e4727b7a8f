package version

import (
	"strings"
	"testing"
	"time"
)

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()
	if info.Name != Name {
		t.Errorf("Name = %q, want %q", info.Name, Name)
	}
	if info.Version == "" || info.GitCommit == "" || info.BuildDate == "" {
		t.Errorf("build variables must not be empty: %+v", info)
	}
	if info.GoVersion == "" || info.Platform == "" {
		t.Errorf("runtime variables must not be empty: %+v", info)
	}
}

func TestGetBuildInfo_ParsesValidDate(t *testing.T) {
	originalBuildDate := BuildDate
	defer func() { BuildDate = originalBuildDate }()

	BuildDate = "2026-01-13T20:00:00Z"
	info := GetBuildInfo()

	want, _ := time.Parse(time.RFC3339, BuildDate)
	if !info.BuildTime.Equal(want) {
		t.Errorf("BuildTime = %v, want %v", info.BuildTime, want)
	}
}

func TestGetBuildInfo_IgnoresInvalidDate(t *testing.T) {
	originalBuildDate := BuildDate
	defer func() { BuildDate = originalBuildDate }()

	BuildDate = "yesterday"
	if info := GetBuildInfo(); !info.BuildTime.IsZero() {
		t.Errorf("BuildTime = %v, want zero", info.BuildTime)
	}
}

func TestBuildInfoString(t *testing.T) {
	info := BuildInfo{Name: Name, Version: "1.2.3", GitCommit: "abc123", BuildDate: "today", GoVersion: "go1.25.0", Platform: "linux/amd64"}
	got := info.String()
	for _, want := range []string{"mail-sms-gateway 1.2.3", "commit: abc123", "built: today", "linux/amd64"} {
		if !strings.Contains(got, want) {
			t.Errorf("String() = %q, missing %q", got, want)
		}
	}
}
