package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"easel/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.OutputDir = filepath.Join(base, "generated")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.FlagsDir = filepath.Join(base, "flags")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Workflow.QueuePollInterval = 1
	cfgVal.Workflow.ErrorRetryInterval = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithGeneratorBinary overrides the generator executable on the test config.
func WithGeneratorBinary(binary string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Generator.Binary = binary
	}
}

// WithCMS points the test config at a CMS endpoint, usually an httptest server.
func WithCMS(baseURL, dataset, token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.CMS.BaseURL = baseURL
		b.cfg.CMS.Dataset = dataset
		b.cfg.CMS.Token = token
	}
}

// WithStubbedGenerator writes a stub generator executable that touches the
// requested image files into its output directory and exits 0, then points
// the config at it.
func WithStubbedGenerator(filenames ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(filenames) == 0 {
			filenames = []string{"hero.png"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := "#!/bin/sh\nout=\"\"\nwhile [ $# -gt 0 ]; do\n  if [ \"$1\" = \"--output-dir\" ]; then out=\"$2\"; shift; fi\n  shift\ndone\n"
		for _, name := range filenames {
			script += "touch \"$out/" + name + "\"\n"
		}
		script += "exit 0\n"
		target := filepath.Join(binDir, "easel-generate")
		if err := os.WriteFile(target, []byte(script), 0o755); err != nil {
			b.t.Fatalf("write stub generator: %v", err)
		}
		b.cfg.Generator.Binary = target
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
