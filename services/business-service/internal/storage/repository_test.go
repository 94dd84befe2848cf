package storage

import "testing"

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"ModernMen Barbershop":    "modernmen-barbershop",
		"  Cuts & Co. (Downtown)": "cuts-co-downtown",
		"---":                     "",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Fatalf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
