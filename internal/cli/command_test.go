package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/clinicops/authcore/internal/service"
)

func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_ACCESS_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")))
	t.Setenv("LOG_LEVEL", "error")
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := NewRootCommand()
	for _, name := range []string{"serve", "migrate", "cleanup"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("expected %s subcommand, got %v err=%v", name, cmd, err)
		}
	}
}

func TestMigrateCommand(t *testing.T) {
	setTestEnv(t)
	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"migrate"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out.String(), "migration complete") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestCleanupCommandPrintsResult(t *testing.T) {
	setTestEnv(t)
	var out, errOut bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"cleanup"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	var res service.CleanupResult
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode cleanup output %q: %v", out.String(), err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
}

func TestCommandFailsOnInvalidConfig(t *testing.T) {
	setTestEnv(t)
	t.Setenv("JWT_ACCESS_SECRET", "short")
	root := NewRootCommand()
	root.SetArgs([]string{"migrate"})
	if err := root.ExecuteContext(context.Background()); err == nil {
		t.Fatal("expected config validation error")
	}
}
