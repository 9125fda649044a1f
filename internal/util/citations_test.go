package util

import (
	"reflect"
	"testing"
)

const (
	cid1 = "chunk-0001"
	cid2 = "chunk-0002"
	cid3 = "chunk-0003"
)

func TestNormalizeCitations(t *testing.T) {
	known := map[string]struct{}{cid1: {}, cid2: {}, cid3: {}}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"AlreadyOK", "Fine [[" + cid1 + "]]", "Fine [[" + cid1 + "]]"},
		{"SingleBracket", "Single: [" + cid1 + "]", "Single: [[" + cid1 + "]]"},
		{"BoldSingle", "Bold: **[" + cid1 + "]**", "Bold: [[" + cid1 + "]]"},
		{"BoldDouble", "Bold: **[[" + cid1 + "]]**", "Bold: [[" + cid1 + "]]"},
		{"LinkSkipped", "Link: [text](http://x.org) and [" + cid1 + "]", "Link: [text](http://x.org) and [[" + cid1 + "]]"},
		{"DedupWhitespace", "[[" + cid1 + "]] [[" + cid1 + "]] then", "[[" + cid1 + "]] then"},
		{"DedupTight", "[[" + cid1 + "]][[" + cid1 + "]] next", "[[" + cid1 + "]] next"},
		{"DedupAcrossLines", "See:\n[[" + cid1 + "]]\n[[" + cid1 + "]] next", "See:\n[[" + cid1 + "]] next"},
		{"NotDedupAcrossComma", "[[" + cid1 + "]], [[" + cid1 + "]]", "[[" + cid1 + "]], [[" + cid1 + "]]"},
		{"DistinctIDsSpaced", "[[" + cid1 + "]]\t[[" + cid2 + "]]", "[[" + cid1 + "]] [[" + cid2 + "]]"},
		{"NestedKept", "Keep [a[b]c]", "Keep [a[b]c]"},
		{"Dangling", "Dangling [" + cid1, "Dangling [" + cid1},
		{"PrefixStripped", "Ref [[DOC:" + cid3 + "]]", "Ref [[" + cid3 + "]]"},
		{"MultiplePrefixes", "Ref [[A,B;" + cid2 + "]]", "Ref [[" + cid2 + "]]"},
		{"UnknownPrefixKept", "Ref [[DOC:nope]]", "Ref [[DOC:nope]]"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeCitations(tc.in, known)
			if got != tc.want {
				t.Fatalf("NormalizeCitations(%q)\nwant: %q\ngot:  %q", tc.in, tc.want, got)
			}
			if twice := NormalizeCitations(got, known); twice != got {
				t.Fatalf("not idempotent: %q -> %q", got, twice)
			}
		})
	}
}

func TestExtractCitations(t *testing.T) {
	text := "A [[" + cid2 + "]] B [[" + cid1 + "]] C [[" + cid2 + "]] D [[unknown]]"

	got := ExtractCitations(text, map[string]struct{}{cid1: {}, cid2: {}})
	want := []string{cid2, cid1}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractCitations = %v, want %v", got, want)
	}

	all := ExtractCitations(text, nil)
	if len(all) != 3 {
		t.Fatalf("expected 3 distinct ids without filter, got %v", all)
	}
}
