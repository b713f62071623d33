// Copyright 2025 The xfs-spaceevac Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Severity-to-level mapping. slog's built-in levels don't have a TRACE
// rung below DEBUG or a hard OFF above ERROR, so the tool defines its own
// scale and never relies on slog's names in output.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
	LevelOff   = slog.Level(1 << 20)
)

func severityName(l slog.Level) string {
	switch {
	case l < LevelDebug:
		return "TRACE"
	case l < LevelInfo:
		return "DEBUG"
	case l < LevelWarn:
		return "INFO"
	case l < LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

// textOrJSONHandler is a minimal slog.Handler producing one line per
// record in either a human-readable "key=value" form or a compact JSON
// form, gated by a shared level and prefixed with an optional static
// string ahead of every message (production use leaves it empty).
type textOrJSONHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	json   bool
	prefix string
	attrs  []slog.Attr
}

func newHandler(w io.Writer, level slog.Leveler, json bool, prefix string) *textOrJSONHandler {
	return &textOrJSONHandler{mu: &sync.Mutex{}, w: w, level: level, json: json, prefix: prefix}
}

func (h *textOrJSONHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *textOrJSONHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &cp
}

func (h *textOrJSONHandler) WithGroup(string) slog.Handler {
	// Grouping is not used by this tool's log call sites.
	return h
}

func (h *textOrJSONHandler) Handle(_ context.Context, r slog.Record) error {
	msg := h.prefix + r.Message
	attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	sort.SliceStable(attrs, func(i, j int) bool { return attrs[i].Key < attrs[j].Key })

	var line string
	if h.json {
		line = h.formatJSON(r.Time, r.Level, msg, attrs)
	} else {
		line = h.formatText(r.Time, r.Level, msg, attrs)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, line+"\n")
	return err
}

func (h *textOrJSONHandler) formatText(t time.Time, level slog.Level, msg string, attrs []slog.Attr) string {
	var b strings.Builder
	fmt.Fprintf(&b, "time=%q severity=%s message=%q", t.Format("2006/01/02 15:04:05.000000"), severityName(level), msg)
	for _, a := range attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	return b.String()
}

func (h *textOrJSONHandler) formatJSON(t time.Time, level slog.Level, msg string, attrs []slog.Attr) string {
	payload := map[string]any{
		"timestamp": map[string]int64{"seconds": t.Unix(), "nanos": int64(t.Nanosecond())},
		"severity":  severityName(level),
		"message":   msg,
	}
	for _, a := range attrs {
		payload[a.Key] = a.Value.Any()
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"severity":"ERROR","message":%q}`, "log encode failure: "+err.Error())
	}
	return string(out)
}
