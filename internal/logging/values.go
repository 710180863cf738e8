package logging

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// consoleTime renders a record time in local time. The zero time is empty.
func consoleTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Local().Format(time.DateTime)
}

// plainValue renders v unquoted, for fields folded into the console header.
func plainValue(v slog.Value) string {
	return valueText(v.Resolve())
}

// quotedValue renders v for key=value output. Text that is empty or contains
// spaces, '=' or '"' is quoted.
func quotedValue(v slog.Value) string {
	v = v.Resolve()
	text := valueText(v)
	switch v.Kind() {
	case slog.KindBool, slog.KindInt64, slog.KindUint64, slog.KindFloat64, slog.KindDuration, slog.KindTime:
		return text
	}
	if text == "" || strings.ContainsFunc(text, splitsField) {
		return strconv.Quote(text)
	}
	return text
}

func valueText(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindTime:
		return consoleTime(v.Time())
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

func splitsField(r rune) bool {
	return r <= ' ' || r == '=' || r == '"'
}
