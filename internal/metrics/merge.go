package metrics

import (
	"bufio"
	"strings"
)

// suffixes lists the counter/histogram/summary sample suffixes that must
// be preserved on individual lines while still grouping under one
// HELP/TYPE header per base name.
var suffixes = []string{"_total", "_bucket", "_count", "_sum", "_created"}

// Merge combines multiple independently-rendered Prometheus
// text-exposition blobs (e.g. one per worker process scraped through a
// shared gateway) into one: each metric's HELP/TYPE lines are emitted
// once, grouped by base name, followed by every sample line collected
// for that base name across all inputs with its original suffix intact.
// Base names are emitted in first-seen order.
//
// This walks the exposition text directly rather than round-tripping
// through expfmt's proto/text decoder: the inputs are always this
// engine's own histogram/counter output, so a line-oriented merge is
// sufficient and avoids re-deriving a DTO model this package does not
// otherwise need.
func Merge(blobs ...string) string {
	headers := make(map[string]*metricHeader)
	order := make([]string, 0)
	samples := make(map[string][]string)

	for _, blob := range blobs {
		scanner := bufio.NewScanner(strings.NewReader(blob))
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "# HELP "):
				base := baseName(fieldAt(line, 2))
				h := headerFor(headers, &order, base)
				h.help = line
			case strings.HasPrefix(line, "# TYPE "):
				base := baseName(fieldAt(line, 2))
				h := headerFor(headers, &order, base)
				h.typ = line
			case line == "" || strings.HasPrefix(line, "#"):
				continue
			default:
				base := baseName(metricNameOf(line))
				headerFor(headers, &order, base)
				samples[base] = append(samples[base], line)
			}
		}
	}

	var out strings.Builder
	for _, base := range order {
		h := headers[base]
		if h.help != "" {
			out.WriteString(h.help)
			out.WriteByte('\n')
		}
		if h.typ != "" {
			out.WriteString(h.typ)
			out.WriteByte('\n')
		}
		for _, s := range samples[base] {
			out.WriteString(s)
			out.WriteByte('\n')
		}
	}
	return out.String()
}

// metricHeader holds the HELP/TYPE lines collected for one base metric
// name.
type metricHeader struct{ help, typ string }

func headerFor(headers map[string]*metricHeader, order *[]string, base string) *metricHeader {
	if h, ok := headers[base]; ok {
		return h
	}
	h := &metricHeader{}
	headers[base] = h
	*order = append(*order, base)
	return h
}

func baseName(name string) string {
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) && len(name) > len(s) {
			return strings.TrimSuffix(name, s)
		}
	}
	return name
}

// metricNameOf extracts the metric name from a sample line, which is
// either "name value", "name value timestamp", or "name{labels} value".
func metricNameOf(line string) string {
	idx := strings.IndexAny(line, "{ ")
	if idx < 0 {
		return line
	}
	return line[:idx]
}

// fieldAt returns the i-th whitespace-separated field of line, or "" if
// short.
func fieldAt(line string, i int) string {
	fields := strings.Fields(line)
	if i >= len(fields) {
		return ""
	}
	return fields[i]
}
