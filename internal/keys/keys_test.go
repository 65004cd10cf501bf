package keys

import (
	"strings"
	"testing"
)

func TestParseCourseKey(t *testing.T) {
	ck, err := ParseCourseKey("course-v1:edX+DemoX+2026")
	if err != nil {
		t.Fatalf("ParseCourseKey: %v", err)
	}
	if ck.Org != "edX" || ck.Course != "DemoX" || ck.Run != "2026" {
		t.Fatalf("ParseCourseKey: unexpected fields: %+v", ck)
	}
	if got := ck.String(); got != "course-v1:edX+DemoX+2026" {
		t.Fatalf("String: got %q", got)
	}
}

func TestParseCourseKeyWithMarkers(t *testing.T) {
	ck, err := ParseCourseKey("course-v1:edX+DemoX+2026+branch@draft+version@abc123")
	if err != nil {
		t.Fatalf("ParseCourseKey: %v", err)
	}
	if ck.Branch != "draft" || ck.Version != "abc123" {
		t.Fatalf("markers not parsed: %+v", ck)
	}
	norm := ck.ForBranch()
	if norm.Version != "" {
		t.Fatalf("ForBranch kept version: %+v", norm)
	}
	if norm.Branch != "draft" {
		t.Fatalf("ForBranch dropped branch: %+v", norm)
	}
}

func TestParseCourseKeyInvalid(t *testing.T) {
	for _, s := range []string{
		"",
		"course-v1:",
		"course-v1:edX+DemoX",
		"block-v1:edX+DemoX+2026",
		"course-v1:edX+DemoX+2026+bogus@x",
	} {
		if _, err := ParseCourseKey(s); err == nil {
			t.Fatalf("ParseCourseKey(%q): expected error", s)
		}
	}
}

func TestParseUsageKey(t *testing.T) {
	uk, err := ParseUsageKey("block-v1:edX+DemoX+2026+type@html+block@intro")
	if err != nil {
		t.Fatalf("ParseUsageKey: %v", err)
	}
	if uk.BlockType != "html" || uk.BlockID != "intro" {
		t.Fatalf("unexpected usage key: %+v", uk)
	}
	if uk.CourseKey.Org != "edX" {
		t.Fatalf("course key not carried: %+v", uk.CourseKey)
	}
	if got := uk.String(); got != "block-v1:edX+DemoX+2026+type@html+block@intro" {
		t.Fatalf("String: got %q", got)
	}
}

func TestParseUsageKeyInvalid(t *testing.T) {
	for _, s := range []string{
		"",
		"block-v1:edX+DemoX+2026",
		"block-v1:edX+DemoX+2026+type@html",
		"course-v1:edX+DemoX+2026",
	} {
		if _, err := ParseUsageKey(s); err == nil {
			t.Fatalf("ParseUsageKey(%q): expected error", s)
		}
	}
}

func TestAsideKeyRoundTrip(t *testing.T) {
	s := "aside-v2:block-v1:edX+DemoX+2026+type@problem+block@p1::acid_aside"
	ak, err := ParseAsideKey(s)
	if err != nil {
		t.Fatalf("ParseAsideKey: %v", err)
	}
	if ak.AsideType != "acid_aside" {
		t.Fatalf("aside type: %q", ak.AsideType)
	}
	if ak.UsageKey.BlockID != "p1" {
		t.Fatalf("inner usage key: %+v", ak.UsageKey)
	}
	if got := ak.String(); got != s {
		t.Fatalf("String: got %q want %q", got, s)
	}
	if !IsAsideKey(s) {
		t.Fatalf("IsAsideKey false for %q", s)
	}
	if IsAsideKey(ak.UsageKey.String()) {
		t.Fatalf("IsAsideKey true for plain usage key")
	}
}

func TestEscapeRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"plain",
		"a/b",
		"a/b/c/",
		";",
		";;",
		";_",
		"i4x://org/course/html/name",
		"a;/b;;/c;_d",
		strings.Repeat("/;", 50),
	}
	for _, s := range cases {
		esc := Escape(s)
		if strings.Contains(esc, "/") {
			t.Fatalf("Escape(%q) still contains a slash: %q", s, esc)
		}
		if got := Unescape(esc); got != s {
			t.Fatalf("round trip %q: escaped %q, unescaped %q", s, esc, got)
		}
	}
}

func TestUnescapeKnownForms(t *testing.T) {
	if got := Unescape(";_a;;b"); got != "/a;b" {
		t.Fatalf("Unescape: got %q", got)
	}
	if got := Escape("/a;b"); got != ";_a;;b" {
		t.Fatalf("Escape: got %q", got)
	}
}

func TestMapIntoCourse(t *testing.T) {
	uk, err := ParseUsageKey("block-v1:edX+DemoX+2026+type@html+block@intro")
	if err != nil {
		t.Fatalf("ParseUsageKey: %v", err)
	}
	other, err := ParseCourseKey("course-v1:MITx+Mech+2025")
	if err != nil {
		t.Fatalf("ParseCourseKey: %v", err)
	}
	moved := uk.MapIntoCourse(other)
	if moved.CourseKey != other {
		t.Fatalf("MapIntoCourse: %+v", moved.CourseKey)
	}
	if moved.BlockType != "html" || moved.BlockID != "intro" {
		t.Fatalf("MapIntoCourse changed identity: %+v", moved)
	}
}
