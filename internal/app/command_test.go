package app

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/YaganovValera/iggy-clients/common/logger"
	"github.com/YaganovValera/iggy-clients/internal/config"
)

func TestNewCommand_FlagsOverrideConfig(t *testing.T) {
	var got *config.Config
	cmd := NewCommand(config.RoleConsumer, "test", func(_ context.Context, cfg *config.Config, _ *logger.Logger) error {
		got = cfg
		return nil
	})
	cmd.SetArgs([]string{"--transport", "memory", "--log-level", "error"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got == nil {
		t.Fatal("run was not called")
	}
	if got.Transport.Kind != "memory" || got.Logging.Level != "error" {
		t.Errorf("flags not applied: kind=%q level=%q", got.Transport.Kind, got.Logging.Level)
	}
	if got.ServiceName != "iggy-consumer" {
		t.Errorf("ServiceName = %q", got.ServiceName)
	}
}

func TestNewCommand_PrintConfigSkipsRun(t *testing.T) {
	cmd := NewCommand(config.RoleConsumer, "test", func(context.Context, *config.Config, *logger.Logger) error {
		t.Error("run must not be called with --print-config")
		return nil
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--print-config", "--transport", "memory"})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "Loaded configuration") || !strings.Contains(out.String(), `"memory"`) {
		t.Errorf("unexpected output: %q", out.String())
	}
}

func TestNewCommand_Errors(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name string
		args []string
		run  RunFunc
	}{
		{"missing config file", []string{"--config", filepath.Join(t.TempDir(), "absent.yaml")}, nil},
		{"invalid level", []string{"--log-level", "loud"}, nil},
		{"unexpected arg", []string{"extra"}, nil},
		{"run error", []string{"--log-level", "error"}, func(context.Context, *config.Config, *logger.Logger) error { return boom }},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			run := c.run
			if run == nil {
				run = func(context.Context, *config.Config, *logger.Logger) error {
					t.Error("run must not be called")
					return nil
				}
			}
			cmd := NewCommand(config.RoleProducer, "test", run)
			cmd.SetArgs(c.args)
			if err := cmd.ExecuteContext(context.Background()); err == nil {
				t.Error("expected error")
			}
		})
	}
}
