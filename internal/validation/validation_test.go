package validation

import "testing"

func TestIsValidGiftCardCode(t *testing.T) {
	tests := []struct {
		name string
		code string
		want bool
	}{
		{name: "valid 16 digits", code: "4561261212345467", want: true},
		{name: "valid 12 digits", code: "455677147635", want: true},
		{name: "wrong check digit", code: "4561261212345464", want: false},
		{name: "too short", code: "12345678903", want: false},
		{name: "too long", code: "45612612123454674561", want: false},
		{name: "empty", code: "", want: false},
		{name: "letters", code: "45612612ABCD5467", want: false},
		{name: "spaces", code: "4561 2612 1234 5467", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidGiftCardCode(tt.code); got != tt.want {
				t.Fatalf("IsValidGiftCardCode(%q) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestIsValidRating(t *testing.T) {
	valid := []int32{1, 2, 3, 4, 5}
	for _, r := range valid {
		if !IsValidRating(r) {
			t.Fatalf("IsValidRating(%d) = false, want true", r)
		}
	}

	invalid := []int32{0, -1, 6, 100}
	for _, r := range invalid {
		if IsValidRating(r) {
			t.Fatalf("IsValidRating(%d) = true, want false", r)
		}
	}
}

func TestIsValidQuantity(t *testing.T) {
	if !IsValidQuantity(1) {
		t.Fatalf("IsValidQuantity(1) = false, want true")
	}
	if IsValidQuantity(0) {
		t.Fatalf("IsValidQuantity(0) = true, want false")
	}
	if IsValidQuantity(-3) {
		t.Fatalf("IsValidQuantity(-3) = true, want false")
	}
}
