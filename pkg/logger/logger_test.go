package logger

import "testing"

type entry struct {
	level   string
	message string
	keyvals []any
}

type recorder struct{ entries []entry }

func (r *recorder) add(level, msg string, kv []any) {
	r.entries = append(r.entries, entry{level: level, message: msg, keyvals: kv})
}

func (r *recorder) Log(m string, kv ...any)   { r.add("log", m, kv) }
func (r *recorder) Debug(m string, kv ...any) { r.add("debug", m, kv) }
func (r *recorder) Info(m string, kv ...any)  { r.add("info", m, kv) }
func (r *recorder) Warn(m string, kv ...any)  { r.add("warn", m, kv) }
func (r *recorder) Error(m string, kv ...any) { r.add("error", m, kv) }
func (r *recorder) Fatal(m string, kv ...any) { r.add("fatal", m, kv) }

func TestFanOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Init(a, b)
	t.Cleanup(func() { singleton = nil })

	Info("[Merge] done", "nodes", 2)
	Log("plain", "k", "v")
	Warn("[Normalize] dropping record", "index", 1)

	for _, r := range []*recorder{a, b} {
		if len(r.entries) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(r.entries))
		}
		if r.entries[0].level != "info" || r.entries[0].keyvals[1] != 2 {
			t.Fatalf("unexpected first entry: %+v", r.entries[0])
		}
		if len(r.entries[1].keyvals) != 2 {
			t.Fatalf("Log dropped key/values: %+v", r.entries[1])
		}
		if r.entries[2].level != "warn" {
			t.Fatalf("unexpected level %q", r.entries[2].level)
		}
	}
}

func TestUninitializedIsNoop(t *testing.T) {
	singleton = nil
	Info("ignored")
	Error("ignored", "k", "v")
}
