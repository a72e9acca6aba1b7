package trust

import (
	"os"
	"testing"
)

func withRecorder(t *testing.T, mask MaskLevel) *Recorder {
	t.Helper()
	rec := &Recorder{}
	prevSink := SetSink(rec)
	prevLevel := SetLevel(mask)
	t.Cleanup(func() {
		SetSink(prevSink)
		SetLevel(prevLevel)
	})
	return rec
}

func TestMasking(t *testing.T) {
	rec := withRecorder(t, WarnMask)
	Errorf("bad %d", 1)
	Warnf("careful %s", "now")
	Infof("hidden")
	Debugf("hidden")
	if rec.Count(ErrorMask) != 1 || rec.Count(WarnMask) != 1 {
		t.Errorf("expected one error and one warning, got %+v", rec.Lines)
	}
	if rec.Count(InfoMask|DebugMask) != 0 {
		t.Errorf("info and debug should be masked: %+v", rec.Lines)
	}
	if !rec.Contains(WarnMask, "careful now") {
		t.Errorf("warning not formatted: %+v", rec.Lines)
	}
}

func TestSetLevelCascades(t *testing.T) {
	withRecorder(t, DebugMask)
	if Level()&(ErrorMask|WarnMask|InfoMask|DebugMask) != ErrorMask|WarnMask|InfoMask|DebugMask {
		t.Errorf("debug should turn on everything below it, got %s", LevelToString())
	}
	if Level()&StatsMask != 0 {
		t.Errorf("debug should not turn on stats")
	}
	if LevelToString() != "error warn info debug" {
		t.Errorf("unexpected level string %q", LevelToString())
	}
}

func TestParseLevel(t *testing.T) {
	m, err := ParseLevel("warn,stats")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != WarnMask|StatsMask {
		t.Errorf("expected warn|stats but got %x", m)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Errorf("expected an error for an unknown level")
	}
}

func TestStatsCategory(t *testing.T) {
	rec := withRecorder(t, StatsMask)
	Statsf("cache", "hits=%d", 4)
	if !rec.Contains(StatsMask, "STATS[cache]: hits=4") {
		t.Errorf("stats line malformed: %+v", rec.Lines)
	}
}

func TestFatalExits(t *testing.T) {
	rec := withRecorder(t, Nothing)
	code := -1
	exit = func(c int) { code = c }
	defer func() { exit = os.Exit }()
	Fatalf(3, "giving up")
	if code != 3 {
		t.Errorf("expected exit code 3 but got %d", code)
	}
	if !rec.Contains(fatalMask, "giving up") {
		t.Errorf("fatal must not be masked: %+v", rec.Lines)
	}
}
