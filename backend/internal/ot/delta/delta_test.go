package delta

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		d      Delta
		docLen int
		ok     bool
	}{
		{"insert into empty", Delta{{Kind: KindInsert, Text: "hi"}}, 0, true},
		{"retain then insert", Delta{{Kind: KindRetain, Count: 5}, {Kind: KindInsert, Text: "!"}}, 5, true},
		{"retain past end", Delta{{Kind: KindRetain, Count: 6}}, 5, false},
		{"delete past end", Delta{{Kind: KindRetain, Count: 3}, {Kind: KindDelete, Count: 3}}, 5, false},
		{"delete then retain rest", Delta{{Kind: KindDelete, Count: 2}, {Kind: KindRetain, Count: 3}}, 5, true},
		{"insert extends retain window", Delta{{Kind: KindInsert, Text: "ab"}, {Kind: KindRetain, Count: 3}}, 3, true},
		{"zero count", Delta{{Kind: KindRetain}}, 5, false},
		{"empty insert", Delta{{Kind: KindInsert}}, 5, false},
		{"unknown kind", Delta{{Kind: "replace", Count: 1}}, 5, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.d.Validate(tc.docLen)
			if tc.ok && err != nil {
				t.Fatalf("Validate() error = %v, want nil", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidOp) {
				t.Fatalf("Validate() error = %v, want ErrInvalidOp", err)
			}
		})
	}
}
