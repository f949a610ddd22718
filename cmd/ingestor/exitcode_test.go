package main

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCodeForWrappedCliError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"config", configErr(errors.New("bad config")), ExitConfig},
		{"storage", storageErr(errors.New("db down")), ExitStorage},
		{"exchange", exchangeErr(errors.New("unreachable")), ExitExchangeDown},
		{"cancelled", cancelledErr(errors.New("context canceled")), ExitCancelled},
		{"wrapped", fmt.Errorf("collect-historical: %w", storageErr(errors.New("db down"))), ExitStorage},
		{"plain", errors.New("unclassified"), ExitConfig},
	}
	for _, tc := range cases {
		if got := exitCodeFor(tc.err); got != tc.want {
			t.Errorf("%s: exitCodeFor = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestCliErrorUnwraps(t *testing.T) {
	root := errors.New("root cause")
	err := storageErr(root)
	if !errors.Is(err, root) {
		t.Errorf("expected cliError to unwrap to the root cause")
	}
}
