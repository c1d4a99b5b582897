package topics

import "testing"

func TestDetect_EmptyTextFallsBackToGeneral(t *testing.T) {
	got := Detect("")
	if len(got) != 1 {
		t.Fatalf("expected exactly one category, got %d", len(got))
	}
	if _, ok := got[General]; !ok {
		t.Fatalf("expected general fallback, got %v", got)
	}
}

func TestDetect_NoKeywordMatchFallsBackToGeneral(t *testing.T) {
	got := Detect("ъыь qwertyzzz")
	if len(got) != 1 {
		t.Fatalf("expected exactly one category, got %v", got)
	}
	if _, ok := got[General]; !ok {
		t.Fatalf("expected general fallback, got %v", got)
	}
}

func TestDetect_SingleCategory(t *testing.T) {
	got := Detect("пойдем в доту вечером")
	if _, ok := got[Gaming]; !ok {
		t.Fatalf("expected gaming, got %v", got)
	}
	if _, ok := got[General]; ok {
		t.Fatalf("general must not be combined with real matches: %v", got)
	}
}

func TestDetect_MultipleCategories(t *testing.T) {
	got := Detect("после работы закажем пиццу и посмотрим фильм")
	for _, want := range []Category{Work, Food, Entertainment} {
		if _, ok := got[want]; !ok {
			t.Fatalf("expected %s in %v", want, got)
		}
	}
}

func TestDetect_CaseInsensitive(t *testing.T) {
	got := Detect("STEAM распродажа")
	if _, ok := got[Gaming]; !ok {
		t.Fatalf("expected gaming for upper-case keyword, got %v", got)
	}
}

func TestParse_ClosedEnumeration(t *testing.T) {
	if c, ok := Parse("pets"); !ok || c != Pets {
		t.Fatalf("parse pets: got %q ok=%v", c, ok)
	}
	if c, ok := Parse("  GAMING "); !ok || c != Gaming {
		t.Fatalf("parse trims and lowercases: got %q ok=%v", c, ok)
	}
	if _, ok := Parse("astrology"); ok {
		t.Fatalf("unknown category must not parse")
	}
}
