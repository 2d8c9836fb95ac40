package mongo

import "testing"

func TestURI(t *testing.T) {
	cases := map[string]string{
		"localhost:27017":               "mongodb://localhost:27017",
		"mongodb://db:27017":            "mongodb://db:27017",
		"mongodb+srv://cluster.example": "mongodb+srv://cluster.example",
	}
	for in, want := range cases {
		if got := uri(in); got != want {
			t.Errorf("uri(%q) = %q, want %q", in, got, want)
		}
	}
}
