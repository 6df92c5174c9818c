package metrics

import "testing"

func TestMergeDeduplicatesHeadersPreservesSuffixes(t *testing.T) {
	a := "# HELP counters_contributing_count_total Contributing counters.\n" +
		"# TYPE counters_contributing_count_total counter\n" +
		"counters_contributing_count_total{worker=\"a\"} 3\n"
	b := "# HELP counters_contributing_count_total Contributing counters.\n" +
		"# TYPE counters_contributing_count_total counter\n" +
		"counters_contributing_count_total{worker=\"b\"} 5\n"

	merged := Merge(a, b)

	if got := countOccurrences(merged, "# HELP counters_contributing_count"); got != 1 {
		t.Fatalf("expected exactly one HELP line, got %d", got)
	}
	if got := countOccurrences(merged, "# TYPE counters_contributing_count"); got != 1 {
		t.Fatalf("expected exactly one TYPE line, got %d", got)
	}
	if !contains(merged, `worker="a"`) || !contains(merged, `worker="b"`) {
		t.Fatalf("expected both workers' samples preserved, got %q", merged)
	}
}

func TestMergeGroupsHistogramSuffixesUnderOneHeader(t *testing.T) {
	a := "# HELP counters_fact_match_duration_seconds Match duration.\n" +
		"# TYPE counters_fact_match_duration_seconds histogram\n" +
		"counters_fact_match_duration_seconds_bucket{le=\"0.1\"} 1\n" +
		"counters_fact_match_duration_seconds_count 1\n" +
		"counters_fact_match_duration_seconds_sum 0.05\n"

	merged := Merge(a)
	if got := countOccurrences(merged, "# HELP"); got != 1 {
		t.Fatalf("expected one HELP line for the grouped histogram, got %d", got)
	}
	for _, want := range []string{"_bucket", "_count", "_sum"} {
		if !contains(merged, want) {
			t.Fatalf("expected suffix %q preserved in output, got %q", want, merged)
		}
	}
}

func countOccurrences(s, substr string) int {
	n := 0
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			n++
		}
	}
	return n
}

func contains(s, substr string) bool {
	return countOccurrences(s, substr) > 0
}
