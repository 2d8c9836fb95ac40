package resolver

import "testing"

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"José  O'Neil":      "jose o neil",
		"  STRAUSS ":        "strauss",
		"Ñúñez-García, Ana": "nunez garcia ana",
		"":                  "",
	}
	for in, want := range cases {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMatchKeyIgnoresTokenOrder(t *testing.T) {
	if matchKey("Smith, John") != matchKey("john SMITH") {
		t.Errorf("token order should not matter: %q vs %q", matchKey("Smith, John"), matchKey("john SMITH"))
	}
	if nameInitial(matchKey("Smith, John")) != "j" {
		t.Errorf("unexpected blocking initial %q", nameInitial(matchKey("Smith, John")))
	}
}

func TestSimilarity(t *testing.T) {
	if s := similarity("bernard sanders", "bernard sanders"); s != 1 {
		t.Errorf("identical names scored %f", s)
	}
	if s := similarity("bernard sanders", "bernard sandars"); s < 0.9 || s >= 1 {
		t.Errorf("one-letter typo scored %f", s)
	}
	if s := similarity("bernard sanders", "mitch mcconnell"); s > 0.5 {
		t.Errorf("unrelated names scored %f", s)
	}
}
