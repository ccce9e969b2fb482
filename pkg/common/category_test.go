package common

import "testing"

func TestSanitizeCategory(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		fallback string
		want     string
	}{
		{name: "lowercase word", raw: "person", fallback: DefaultNodeType, want: "Person"},
		{name: "spaces", raw: "work history", fallback: DefaultNodeType, want: "WorkHistory"},
		{name: "punctuation", raw: "org/company!", fallback: DefaultNodeType, want: "OrgCompany"},
		{name: "shouting snake", raw: "WORKS_FOR", fallback: DefaultEdgeLabel, want: "WorksFor"},
		{name: "empty uses fallback", raw: "", fallback: DefaultNodeType, want: "Entity"},
		{name: "only symbols", raw: "$$ --", fallback: DefaultEdgeLabel, want: "RelatedTo"},
		{name: "digits kept", raw: "covid 19", fallback: DefaultNodeType, want: "Covid19"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeCategory(tt.raw, tt.fallback)
			if got != tt.want {
				t.Fatalf("SanitizeCategory(%q) = %q, want %q", tt.raw, got, tt.want)
			}
			if !ValidCategory(got) {
				t.Fatalf("sanitized category %q is not valid", got)
			}
		})
	}
}

func TestValidCategory(t *testing.T) {
	for _, bad := range []string{"", "Has Space", "semi;colon", "back`tick"} {
		if ValidCategory(bad) {
			t.Fatalf("expected %q to be invalid", bad)
		}
	}
	if !ValidCategory("Person2") {
		t.Fatal("expected Person2 to be valid")
	}
}
