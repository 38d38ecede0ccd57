package envutil

import (
	"testing"
	"time"
)

func TestDurationAcceptsSecondsAndStrings(t *testing.T) {
	t.Setenv("TRACE_TEST_DURATION", "45")
	if got := Duration("TRACE_TEST_DURATION", time.Second); got != 45*time.Second {
		t.Fatalf("bare seconds: want=%v got=%v", 45*time.Second, got)
	}
	t.Setenv("TRACE_TEST_DURATION", "3m")
	if got := Duration("TRACE_TEST_DURATION", time.Second); got != 3*time.Minute {
		t.Fatalf("duration string: want=%v got=%v", 3*time.Minute, got)
	}
	t.Setenv("TRACE_TEST_DURATION", "soon")
	if got := Duration("TRACE_TEST_DURATION", time.Second); got != time.Second {
		t.Fatalf("invalid: want=%v got=%v", time.Second, got)
	}
}

func TestIntFloatBoolDefaults(t *testing.T) {
	t.Setenv("TRACE_TEST_INT", "x")
	if got := Int("TRACE_TEST_INT", 7); got != 7 {
		t.Fatalf("int default: want=7 got=%d", got)
	}
	t.Setenv("TRACE_TEST_FLOAT", "0.25")
	if got := Float("TRACE_TEST_FLOAT", 1); got != 0.25 {
		t.Fatalf("float: want=0.25 got=%v", got)
	}
	t.Setenv("TRACE_TEST_BOOL", "off")
	if got := Bool("TRACE_TEST_BOOL", true); got {
		t.Fatalf("bool: want=false got=%v", got)
	}
	if got := String("TRACE_TEST_UNSET_STRING", "d"); got != "d" {
		t.Fatalf("string default: want=d got=%q", got)
	}
}
