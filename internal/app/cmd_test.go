package app

import (
	"testing"
)

func TestParseInvocation(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCmd  Command
		wantArgs int
	}{
		{"no args", nil, CommandServe, 0},
		{"serve", []string{"serve"}, CommandServe, 0},
		{"worker", []string{"worker"}, CommandWorker, 0},
		{"migrate", []string{"migrate"}, CommandMigrate, 0},
		{"migrate down", []string{"migrate", "down", "2"}, CommandMigrate, 2},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck, 0},
		{"case and spaces", []string{"  Worker "}, CommandWorker, 0},
		{"unknown falls back to serve", []string{"reindex", "--all"}, CommandServe, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := ParseInvocation(tt.args)
			if inv.Command != tt.wantCmd {
				t.Errorf("Command = %q, want %q", inv.Command, tt.wantCmd)
			}
			if len(inv.Args) != tt.wantArgs {
				t.Errorf("Args = %v, want %d args", inv.Args, tt.wantArgs)
			}
		})
	}
}

func TestCommand_NeedsConfig(t *testing.T) {
	for _, cmd := range []Command{CommandServe, CommandWorker, CommandMigrate} {
		if !cmd.NeedsConfig() {
			t.Errorf("%s.NeedsConfig() = false, want true", cmd)
		}
	}
	if CommandHealthcheck.NeedsConfig() {
		t.Error("healthcheck should run without DATABASE_URL and JWT_SECRET")
	}
}

func TestInvocation_RollbackSteps(t *testing.T) {
	tests := []struct {
		args    []string
		want    int
		wantErr bool
	}{
		{nil, 0, false},
		{[]string{"up"}, 0, false},
		{[]string{"down"}, 1, false},
		{[]string{"DOWN", "3"}, 3, false},
		{[]string{"down", "0"}, 0, true},
		{[]string{"down", "all"}, 0, true},
		{[]string{"sideways"}, 0, true},
	}

	for _, tt := range tests {
		inv := Invocation{Command: CommandMigrate, Args: tt.args}
		got, err := inv.RollbackSteps()
		if (err != nil) != tt.wantErr {
			t.Errorf("RollbackSteps(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("RollbackSteps(%v) = %d, want %d", tt.args, got, tt.want)
		}
	}
}
