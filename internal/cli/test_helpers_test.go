package cli

var testBuildInfo = BuildInfo{
	Version:   "test",
	Commit:    "testcommit",
	Date:      "2026-01-01",
	GoVersion: "go1.25.7",
}
