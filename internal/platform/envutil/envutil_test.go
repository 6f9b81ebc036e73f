package envutil

import (
	"reflect"
	"testing"
	"time"
)

func TestDuration(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{raw: "", want: time.Minute},
		{raw: "90s", want: 90 * time.Second},
		{raw: "2.5", want: 2500 * time.Millisecond},
		{raw: "bogus", want: time.Minute},
	}
	for _, tc := range cases {
		t.Setenv("CLIPFARM_TEST_DURATION", tc.raw)
		if got := Duration("CLIPFARM_TEST_DURATION", time.Minute); got != tc.want {
			t.Fatalf("Duration(%q): got=%s want=%s", tc.raw, got, tc.want)
		}
	}
}

func TestListAndBool(t *testing.T) {
	t.Setenv("CLIPFARM_TEST_LIST", " chrome, ,firefox ")
	got := List("CLIPFARM_TEST_LIST", nil)
	if !reflect.DeepEqual(got, []string{"chrome", "firefox"}) {
		t.Fatalf("List: got=%v", got)
	}

	t.Setenv("CLIPFARM_TEST_BOOL", "off")
	if Bool("CLIPFARM_TEST_BOOL", true) {
		t.Fatalf("Bool(off) should be false")
	}
	t.Setenv("CLIPFARM_TEST_BOOL", "maybe")
	if !Bool("CLIPFARM_TEST_BOOL", true) {
		t.Fatalf("Bool(maybe) should fall back to default")
	}
}

func TestInt64(t *testing.T) {
	t.Setenv("CLIPFARM_TEST_INT64", "1073741824")
	if got := Int64("CLIPFARM_TEST_INT64", 0); got != 1<<30 {
		t.Fatalf("Int64: got=%d", got)
	}
}
