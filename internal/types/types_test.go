package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestAmountUnmarshalAcceptsNumberAndString(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"string", `"1000000000000000000"`, "1000000000000000000", false},
		{"number", `42`, "42", false},
		{"null", `null`, "0", false},
		{"negative", `"-1"`, "", true},
		{"garbage", `"abc"`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a Amount
			err := json.Unmarshal([]byte(tt.input), &a)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %s", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if a.String() != tt.want {
				t.Errorf("got %s, want %s", a.String(), tt.want)
			}
		})
	}
}

func TestIntentKeys(t *testing.T) {
	ref := func(id int64) ProjectRef { return ProjectRef{ChainID: id, Provenance: ProvenanceConfirmed} }

	dist := DistributeGrantsIntent{Allocations: []GrantAllocation{
		{Project: ref(3)}, {Project: ref(1)}, {Project: ref(2)},
	}}
	if got := dist.Key(); got != "distribute:1,2,3" {
		t.Errorf("distribute key = %s", got)
	}
	if got := (VoteIntent{Project: ref(7)}).Key(); got != "vote:7" {
		t.Errorf("vote key = %s", got)
	}
	for _, u := range []string{"https://github.com/Acme/Widgets", "github.com/acme/widgets.git", " https://www.github.com/acme/widgets/ "} {
		if got := (ProposeIntent{GithubURL: u}).Key(); got != "propose:acme:widgets" {
			t.Errorf("propose key for %q = %s", u, got)
		}
	}
	if got := (ProposeIntent{GithubURL: "https://github.com/acme/w?x=1#y"}).Key(); strings.ContainsAny(got, "/?#") {
		t.Errorf("propose key %s is not a single path segment", got)
	}
	if !(VoteIntent{}).Irreversible() || (UpdateScoreIntent{}).Irreversible() {
		t.Error("irreversibility flags are wrong")
	}
	if len(dist.Projects()) != 3 {
		t.Errorf("expected 3 project refs, got %d", len(dist.Projects()))
	}
}
