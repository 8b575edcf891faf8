package normalize

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "I Feel FINE", "i feel fine"},
		{"diacritics stripped", "suïcidé", "suicide"},
		{"curly quotes unified", "I’m ok", "i'm ok"},
		{"elongation collapsed", "I am coooool", "i am cool"},
		{"double letters kept", "I need to fall asleep", "i need to fall asleep"},
		{"zero width to space", "k\u200bm\u200bs", "k m s"},
		{"underscores to space", "k_m_s", "k m s"},
		{"whitespace collapsed", "  so   much \t space \n", "so much space"},
		{"empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.in); got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"I Feel FINE",
		"suïcidé",
		"I am sooooo tired!!!",
		"k\u200bm\u200bs",
		"  mixed   CASE and — dashes … ",
		"",
	}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q != %q", in, twice, once)
		}
	}
}

func TestExpandSlang(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"kms", "kms", "kill myself"},
		{"kms in sentence", "i might kms tonight", "i might kill myself tonight"},
		{"spaced letters", "k m s", "kill myself"},
		{"starred letters", "k*m*s", "kill myself"},
		{"slashed letters", "k/m/s", "kill myself"},
		{"self harm abbreviation", "thinking about s/h again", "thinking about self harm again"},
		{"unalive", "i want to unalive", "i want to suicide"},
		{"end it", "i just want to end it", "i just want to end my life"},
		{"no slang untouched", "i had a normal day", "i had a normal day"},
		{"word boundary respected", "the kmsa server", "the kmsa server"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExpandSlang(tc.in); got != tc.want {
				t.Errorf("ExpandSlang(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestExpandSlangIdempotent(t *testing.T) {
	inputs := []string{"kms", "i might k m s", "i want to unalive", "plain text"}
	for _, in := range inputs {
		once := ExpandSlang(Normalize(in))
		if twice := ExpandSlang(once); twice != once {
			t.Errorf("ExpandSlang not idempotent for %q: %q != %q", in, twice, once)
		}
	}
}
