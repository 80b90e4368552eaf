package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	t.Setenv("GOOGLE_CLIENT_ID", "")
	t.Setenv("GOOGLE_CLIENT_SECRET", "")
	t.Setenv("GOOGLE_REDIRECT_URL", "")
	t.Setenv("BASE_URL", "")

	var buf bytes.Buffer
	if err := Run(&buf, []string{"serve"}); err == nil {
		t.Fatal("Run with missing env should return error")
	}
}

func TestRun_CodefEnabledWithoutCredentials_ReturnsError(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	setRequiredEnv(t)
	t.Setenv("CODEF_ENABLED", "true")
	t.Setenv("CODEF_CLIENT_ID", "")
	t.Setenv("CODEF_CLIENT_SECRET", "")

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("CODEF有効時に認証情報がなければ起動に失敗すること")
	}
	if !strings.Contains(err.Error(), "CODEF_CLIENT_ID") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRun_CommandsRequiringDatabase(t *testing.T) {
	for _, cmd := range []string{"migrate", "worker"} {
		t.Run(cmd, func(t *testing.T) {
			prev := slog.Default()
			t.Cleanup(func() { slog.SetDefault(prev) })
			setRequiredEnv(t)

			var buf bytes.Buffer
			err := Run(&buf, []string{cmd})
			if err == nil {
				t.Fatalf("%s はDATABASE_URLなしではエラーになること", cmd)
			}
			if !strings.Contains(err.Error(), "DATABASE_URL") {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	got := maskDatabaseURL("postgres://user:secret@db:5432/finsight")
	if strings.Contains(got, "secret") {
		t.Errorf("maskDatabaseURL leaked credentials: %q", got)
	}
	if maskDatabaseURL("short") != "***" {
		t.Errorf("short URL should be fully masked")
	}
}
