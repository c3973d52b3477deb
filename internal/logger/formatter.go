package logger

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// FixedFormatWriter rewrites zerolog JSON lines into aligned columns:
//
//	2026-10-14 09:12:00.041 [INF] [supervisor    ] host spawned pid=4121
//	2026-10-14 09:12:00.377 [WRN] [status-channel] bus content unreadable raw="{no"
type FixedFormatWriter struct {
	w io.Writer
}

// NewFixedFormatWriter wraps w.
func NewFixedFormatWriter(w io.Writer) *FixedFormatWriter {
	return &FixedFormatWriter{w: w}
}

const componentWidth = 14

var levelTags = map[string]string{
	"trace": "TRC",
	"debug": "DBG",
	"info":  "INF",
	"warn":  "WRN",
	"error": "ERR",
	"fatal": "FTL",
	"panic": "PNC",
}

func (f *FixedFormatWriter) Write(p []byte) (int, error) {
	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err != nil {
		return f.w.Write(p)
	}

	ts := fixedTimestamp(popString(fields, "time"))
	tag, ok := levelTags[popString(fields, "level")]
	if !ok {
		tag = "???"
	}
	component := popString(fields, "component")
	if len(component) > componentWidth {
		component = component[:componentWidth]
	}
	message := popString(fields, "message")
	delete(fields, "caller")

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] [%-*s] %s", ts, tag, componentWidth, component, message)
	if extra := joinFields(fields); extra != "" {
		b.WriteByte(' ')
		b.WriteString(extra)
	}
	b.WriteByte('\n')

	if _, err := io.WriteString(f.w, b.String()); err != nil {
		return 0, err
	}
	// zerolog checks the returned length against its own buffer
	return len(p), nil
}

func popString(fields map[string]any, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	delete(fields, key)
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// fixedTimestamp turns an RFC3339 timestamp into "2006-01-02 15:04:05.000".
func fixedTimestamp(ts string) string {
	const width = 23
	if len(ts) < 19 {
		return strings.Repeat(" ", width)
	}

	out := strings.Replace(ts, "T", " ", 1)
	if i := strings.IndexAny(out[19:], "Z+-"); i >= 0 {
		out = out[:19+i]
	}

	dot := strings.IndexByte(out, '.')
	switch {
	case dot < 0:
		out += ".000"
	case len(out)-dot-1 > 3:
		out = out[:dot+4]
	default:
		out += strings.Repeat("0", 3-(len(out)-dot-1))
	}

	if len(out) < width {
		out += strings.Repeat(" ", width-len(out))
	}
	return out[:width]
}

func joinFields(fields map[string]any) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		s := fmt.Sprint(fields[k])
		if strings.ContainsAny(s, " \t\n\"") {
			parts = append(parts, fmt.Sprintf("%s=%q", k, s))
			continue
		}
		parts = append(parts, k+"="+s)
	}
	return strings.Join(parts, " ")
}
