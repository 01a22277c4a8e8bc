// pkg/locator/locator_test.go
package locator

import "testing"

func TestLocator_Zero(t *testing.T) {
	var l Locator
	if !l.Zero() {
		t.Error("zero-value Locator should report Zero() true")
	}
}

func TestLocator_NotZero(t *testing.T) {
	l := Locator{SegmentID: 1, Offset: 4, Len: 16}
	if l.Zero() {
		t.Error("populated Locator should report Zero() false")
	}
}

func TestLocator_ZeroOffsetStillNonZero(t *testing.T) {
	// Offset 0 alone doesn't make a locator the zero sentinel if SegmentID
	// or Len is set.
	l := Locator{SegmentID: 0, Offset: 0, Len: 8}
	if l.Zero() {
		t.Error("locator with non-zero Len should not report Zero() true")
	}
}

func TestLocator_Equality(t *testing.T) {
	a := Locator{SegmentID: 2, Offset: 10, Len: 5}
	b := Locator{SegmentID: 2, Offset: 10, Len: 5}
	if a != b {
		t.Error("identical locators should compare equal")
	}
}
