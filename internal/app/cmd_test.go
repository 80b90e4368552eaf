package app

import (
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"引数なしはserve", nil, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"worker", []string{"worker"}, CommandWorker},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"未知のコマンドはserve", []string{"sync-accounts"}, CommandServe},
		{"後続の引数は無視", []string{"worker", "--interval", "5m"}, CommandWorker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCommand(tt.args); got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestCommand_RequiresDatabase(t *testing.T) {
	want := map[Command]bool{
		CommandServe:       false,
		CommandWorker:      true,
		CommandMigrate:     true,
		CommandHealthcheck: false,
	}
	for cmd, required := range want {
		if got := cmd.RequiresDatabase(); got != required {
			t.Errorf("%s.RequiresDatabase() = %v, want %v", cmd, got, required)
		}
	}
}

func TestCommand_CheckPreconditions(t *testing.T) {
	// serveはメモリストアで起動できる
	if err := CommandServe.checkPreconditions(false); err != nil {
		t.Errorf("serve without DATABASE_URL: unexpected error %v", err)
	}

	for _, cmd := range []Command{CommandWorker, CommandMigrate} {
		err := cmd.checkPreconditions(false)
		if err == nil {
			t.Fatalf("%s without DATABASE_URL should fail", cmd)
		}
		if !strings.Contains(err.Error(), "DATABASE_URL") || !strings.Contains(err.Error(), string(cmd)) {
			t.Errorf("%s error should name the command and DATABASE_URL, got %q", cmd, err)
		}
		if err := cmd.checkPreconditions(true); err != nil {
			t.Errorf("%s with DATABASE_URL: unexpected error %v", cmd, err)
		}
	}
}
