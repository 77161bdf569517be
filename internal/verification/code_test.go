package verification

import "testing"

func TestNewCode_IsSixDigits(t *testing.T) {
	for i := 0; i < 1000; i++ {
		code, err := NewCode()
		if err != nil {
			t.Fatalf("NewCode returned error: %v", err)
		}
		if !ValidFormat(code) {
			t.Fatalf("NewCode() = %q, want 6 numeric digits", code)
		}
	}
}

func TestNewCode_IsNotSequential(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		code, err := NewCode()
		if err != nil {
			t.Fatalf("NewCode returned error: %v", err)
		}
		seen[code] = struct{}{}
	}
	// 10^6 の空間から200件引いて重複が多発することはない
	if len(seen) < 190 {
		t.Errorf("unique codes = %d out of 200, distribution looks degenerate", len(seen))
	}
}

func TestNewCode_LeadingDigitsVary(t *testing.T) {
	firsts := make(map[byte]bool)
	for i := 0; i < 500; i++ {
		code, _ := NewCode()
		firsts[code[0]] = true
	}
	// 先頭桁が0のコードも含めて複数の値が出現する
	if len(firsts) < 5 {
		t.Errorf("leading digit variety = %d, want at least 5", len(firsts))
	}
}

func TestValidFormat(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"123456", true},
		{"000000", true},
		{"12345", false},
		{"1234567", false},
		{"12a456", false},
		{"", false},
		{" 23456", false},
	}
	for _, tt := range tests {
		if got := ValidFormat(tt.code); got != tt.want {
			t.Errorf("ValidFormat(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
