package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{input: "yes\n", want: true},
		{input: "YES\n", want: true},
		{input: "  yes  \n", want: true},
		{input: "y\n", want: false},
		{input: "no\n", want: false},
		{input: "", want: false},
		{input: "yes", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var out bytes.Buffer
			if got := confirm(strings.NewReader(tt.input), &out); got != tt.want {
				t.Fatalf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
			}
			if !strings.Contains(out.String(), "Continue?") {
				t.Fatalf("expected a prompt, got %q", out.String())
			}
		})
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"migrate", "materialize"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("expected %s subcommand, got %v (err %v)", name, cmd, err)
		}
	}
	materialize, _, _ := root.Find([]string{"materialize"})
	if materialize.Flags().Lookup("days") == nil || materialize.Flags().Lookup("yes") == nil {
		t.Fatal("expected --days and --yes flags on materialize")
	}
}
