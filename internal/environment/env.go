package environment

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"mvdan.cc/sh/v3/interp"
)

const (
	DEFAULT_DEBOUNCE          = 500 * time.Millisecond
	DEFAULT_MIN_PROMPT_LENGTH = 5
	DEFAULT_REQUEST_TIMEOUT   = 10 * time.Second
)

func GetAPIKey(runner *interp.Runner) string {
	return strings.TrimSpace(runner.Vars["OPENAI_API_KEY"].String())
}

func GetBaseURL(runner *interp.Runner) string {
	return strings.TrimSpace(runner.Vars["AUTOTAB_BASE_URL"].String())
}

func GetBuildVersion(runner *interp.Runner) string {
	return runner.Vars["AUTOTAB_BUILD_VERSION"].String()
}

func GetLogLevel(runner *interp.Runner) zap.AtomicLevel {
	logLevel, err := zap.ParseAtomicLevel(runner.Vars["AUTOTAB_LOG_LEVEL"].String())
	if err != nil {
		logLevel = zap.NewAtomicLevel()
	}
	return logLevel
}

func ShouldCleanLogFile(runner *interp.Runner) bool {
	cleanLogFile := strings.ToLower(runner.Vars["AUTOTAB_CLEAN_LOG_FILE"].String())
	return lo.Contains([]string{"1", "true", "yes"}, cleanLogFile)
}

func getMilliseconds(runner *interp.Runner, logger *zap.Logger, name string, fallback time.Duration) time.Duration {
	ms, err := strconv.ParseInt(runner.Vars[name].String(), 10, 64)
	if err != nil || ms <= 0 {
		logger.Debug("error parsing "+name, zap.Error(err), zap.Int64("value", ms))
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func GetDebounce(runner *interp.Runner, logger *zap.Logger) time.Duration {
	return getMilliseconds(runner, logger, "AUTOTAB_DEBOUNCE_MS", DEFAULT_DEBOUNCE)
}

func GetRequestTimeout(runner *interp.Runner, logger *zap.Logger) time.Duration {
	return getMilliseconds(runner, logger, "AUTOTAB_REQUEST_TIMEOUT_MS", DEFAULT_REQUEST_TIMEOUT)
}

func GetMinPromptLength(runner *interp.Runner, logger *zap.Logger) int {
	n, err := strconv.ParseInt(runner.Vars["AUTOTAB_MIN_PROMPT_LENGTH"].String(), 10, 32)
	if err != nil || n < 1 {
		logger.Debug("error parsing AUTOTAB_MIN_PROMPT_LENGTH", zap.Error(err))
		return DEFAULT_MIN_PROMPT_LENGTH
	}
	return int(n)
}

// GetSocketPath returns AUTOTAB_SOCKET, or fallback when unset.
func GetSocketPath(runner *interp.Runner, fallback string) string {
	if p := strings.TrimSpace(runner.Vars["AUTOTAB_SOCKET"].String()); p != "" {
		return p
	}
	return fallback
}

// GetHeaders parses AUTOTAB_HEADERS, a JSON object of extra HTTP headers sent
// with every completion request. Empty names are dropped.
func GetHeaders(runner *interp.Runner, logger *zap.Logger) map[string]string {
	var headers map[string]string
	raw := runner.Vars["AUTOTAB_HEADERS"].String()
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &headers); err != nil {
		logger.Warn("error parsing AUTOTAB_HEADERS", zap.Error(err))
		return nil
	}
	return lo.PickBy(headers, func(name, _ string) bool {
		return strings.TrimSpace(name) != ""
	})
}
