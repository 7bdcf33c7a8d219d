package environment

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

//go:embed autotabrc.default
var DEFAULT_VARS []byte

// ConfigFiles returns the rc files read at startup, in evaluation order.
// A custom rcFile replaces ~/.autotabrc.
func ConfigFiles(homeDir, workDir, rcFile string) []string {
	if rcFile == "" {
		rcFile = filepath.Join(homeDir, ".autotabrc")
	}
	return []string{rcFile, filepath.Join(workDir, ".env")}
}

// NewRunner evaluates the default variables and then every config file that
// exists. Config files may assign and export variables but cannot run
// external commands. A broken config file is reported on stderr and skipped
// unless strict is set.
func NewRunner(ctx context.Context, buildVersion string, configFiles []string, strict bool) (*interp.Runner, error) {
	dynamicEnv := NewDynamicEnviron()
	dynamicEnv.UpdateAutotabVar("AUTOTAB_BUILD_VERSION", buildVersion)

	runner, err := interp.New(
		interp.Env(expand.Environ(dynamicEnv)),
		interp.StdIO(nil, io.Discard, os.Stderr),
		interp.ExecHandlers(denyExec),
	)
	if err != nil {
		return nil, err
	}

	if err := RunScript(ctx, runner, bytes.NewReader(DEFAULT_VARS), "autotab"); err != nil {
		return nil, err
	}

	for _, configFile := range configFiles {
		stat, err := os.Stat(configFile)
		if err != nil || stat.Size() == 0 {
			continue
		}
		if err := RunScriptFromFile(ctx, runner, configFile); err != nil {
			fmt.Fprintf(os.Stderr, "Configuration file %s contains errors: %v\n", configFile, err)
			if strict {
				return nil, fmt.Errorf("aborting due to configuration error in %s: %w", configFile, err)
			}
		}
	}

	return runner, nil
}

func denyExec(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		return fmt.Errorf("%s: commands are not allowed in config files", args[0])
	}
}

func RunScriptFromFile(ctx context.Context, runner *interp.Runner, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()
	return RunScript(ctx, runner, file, filePath)
}

func RunScript(ctx context.Context, runner *interp.Runner, reader io.Reader, name string) error {
	prog, err := syntax.NewParser().Parse(reader, name)
	if err != nil {
		return err
	}
	return runner.Run(ctx, prog)
}
