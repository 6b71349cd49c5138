package postgres

import (
	"slices"
	"strings"
	"testing"
)

func TestNormalizeTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil", nil, []string{}},
		{"trimmed", []string{" vip ", "new"}, []string{"vip", "new"}},
		{"comma joined", []string{"vip, new ,old"}, []string{"vip", "new", "old"}},
		{"duplicates and blanks", []string{"vip", "", " ", "vip,new"}, []string{"vip", "new"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := NormalizeTags(tt.in)
			if !slices.Equal(got, tt.want) {
				t.Fatalf("NormalizeTags(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPhonesByTagsQuery(t *testing.T) {
	t.Parallel()

	q := phonesByTagsQuery("ACME")
	for _, want := range []string{
		`FROM "daisi_acme"."contacts"`,
		"agent_id = $1",
		"&& $2::text[]",
		"LENGTH(phone_number) >= 10",
		"LENGTH(phone_number) <= 15",
		"ORDER BY phone_number",
	} {
		if !strings.Contains(q, want) {
			t.Errorf("query missing %q:\n%s", want, q)
		}
	}
}

func TestPhonesByTagsQuery_QuotesSchema(t *testing.T) {
	t.Parallel()

	q := phonesByTagsQuery(`x"; DROP TABLE contacts; --`)
	if !strings.Contains(q, `"daisi_x""; drop table contacts; --"`) {
		t.Fatalf("schema not quoted:\n%s", q)
	}
}
