package tool

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestRun(t *testing.T) {
	var got []string
	commands := map[string]*Command{
		"echo": {
			Name:        "echo",
			Description: "Print arguments",
			Help:        "echo help",
			Fn: func(_ context.Context, args []string) error {
				got = args
				return nil
			},
		},
		"fail": {
			Name:        "fail",
			Description: "Always fail",
			Fn:          func(context.Context, []string) error { return errors.New("boom") },
		},
	}

	for _, test := range []struct {
		args   []string
		code   int
		output string
	}{
		{[]string{"echo", "a", "b"}, 0, ""},
		{[]string{"fail"}, 1, `command "fail" failed: boom`},
		{[]string{"nope"}, 1, `command "nope" not found`},
		{nil, 1, "lightrpc echo"},
		{[]string{"help", "echo"}, 0, "echo help"},
	} {
		var stderr bytes.Buffer
		if code := Run(context.Background(), commands, test.args, &stderr); code != test.code {
			t.Errorf("Run(%v) = %d, want %d", test.args, code, test.code)
		}
		if !strings.Contains(stderr.String(), test.output) {
			t.Errorf("Run(%v) output %q does not contain %q", test.args, stderr.String(), test.output)
		}
	}
	if strings.Join(got, ",") != "a,b" {
		t.Errorf("echo got %v", got)
	}
}
