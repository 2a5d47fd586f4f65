package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"mercator-hq/tracekit/pkg/cli"
	"mercator-hq/tracekit/pkg/config"
)

// writeConfig writes a config file and points cfgFile at it for the test.
func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	orig := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = orig })
	return path
}

func runValidateWith(t *testing.T, format string, strict bool) (string, error) {
	t.Helper()
	orig := validateFlags
	validateFlags.format = format
	validateFlags.strict = strict
	t.Cleanup(func() { validateFlags = orig })

	buf := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	err := runValidate(cmd, nil)
	return buf.String(), err
}

const validConfig = `
tracing:
  sample_rate: 0.5
  public_key: abc123
  release: "1.2.0"
export:
  exporter: none
`

func TestValidate_Valid(t *testing.T) {
	writeConfig(t, validConfig)

	out, err := runValidateWith(t, "text", true)
	if err != nil {
		t.Fatalf("runValidate() error = %v", err)
	}

	for _, want := range []string{"✓ Configuration", "tracing.sample_rate", "0.5", "export.exporter"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "!") {
		t.Errorf("unexpected warnings:\n%s", out)
	}
}

func TestValidate_Warnings(t *testing.T) {
	writeConfig(t, `
tracing:
  sample_rate: 1.5
  public_key: abc123
`)

	out, err := runValidateWith(t, "text", false)
	if err != nil {
		t.Fatalf("runValidate() error = %v", err)
	}
	if !strings.Contains(out, "! tracing.sample_rate") {
		t.Errorf("output should list the warning:\n%s", out)
	}

	_, err = runValidateWith(t, "text", true)
	var cfgErr *cli.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("strict runValidate() error = %v, want ConfigError", err)
	}
	if cfgErr.Field != "tracing.sample_rate" {
		t.Errorf("Field = %q", cfgErr.Field)
	}
	if cli.ExitCode(err) != cli.ExitConfigError {
		t.Errorf("ExitCode() = %d, want %d", cli.ExitCode(err), cli.ExitConfigError)
	}
}

func TestValidate_Invalid(t *testing.T) {
	writeConfig(t, `
export:
  exporter: zipkin
`)

	_, err := runValidateWith(t, "text", false)
	if err == nil {
		t.Fatal("runValidate() should fail")
	}

	fields := cli.ConfigErrors(err)
	if len(fields) != 1 || fields[0].Field != "export.exporter" {
		t.Errorf("ConfigErrors() = %+v", fields)
	}
	if cli.ExitCode(err) != cli.ExitConfigError {
		t.Errorf("ExitCode() = %d, want %d", cli.ExitCode(err), cli.ExitConfigError)
	}

	buf := &bytes.Buffer{}
	printError(buf, err)
	if !strings.Contains(buf.String(), "✗ export.exporter") {
		t.Errorf("printError() = %q", buf.String())
	}
}

func TestValidate_JSON(t *testing.T) {
	writeConfig(t, validConfig)

	out, err := runValidateWith(t, "json", false)
	if err != nil {
		t.Fatalf("runValidate() error = %v", err)
	}
	if strings.Contains(out, "✓") {
		t.Errorf("json output should not contain status lines:\n%s", out)
	}
	if !strings.Contains(out, `"tracing.sampler": "ratio"`) {
		t.Errorf("output = %s", out)
	}
}

func TestLoadConfig_MissingDefault(t *testing.T) {
	orig := cfgFile
	cfgFile = filepath.Join(t.TempDir(), "config.yaml")
	defer func() { cfgFile = orig }()

	cfg, err := loadConfig(decideCmd)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Export.Exporter != config.DefaultExporter {
		t.Errorf("Exporter = %q, want default", cfg.Export.Exporter)
	}
}

func TestLoadConfig_File(t *testing.T) {
	writeConfig(t, validConfig)

	cfg, err := loadConfig(decideCmd)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Tracing.Release != "1.2.0" {
		t.Errorf("Release = %q, want 1.2.0", cfg.Tracing.Release)
	}
}
