package environment

import (
	"os"
	"strings"

	"mvdan.cc/sh/v3/expand"
)

// autotabVariableNames lists the variables autotab reads from its rc files.
var autotabVariableNames = []string{
	"OPENAI_API_KEY", "AUTOTAB_BASE_URL", "AUTOTAB_BUILD_VERSION",
	"AUTOTAB_LOG_LEVEL", "AUTOTAB_CLEAN_LOG_FILE", "AUTOTAB_DEBOUNCE_MS",
	"AUTOTAB_MIN_PROMPT_LENGTH", "AUTOTAB_REQUEST_TIMEOUT_MS", "AUTOTAB_SOCKET",
	"AUTOTAB_HEADERS",
}

// DynamicEnviron layers autotab-specific variables over the system
// environment.
type DynamicEnviron struct {
	systemEnv   expand.Environ
	autotabVars map[string]string
}

func NewDynamicEnviron() *DynamicEnviron {
	return &DynamicEnviron{
		systemEnv:   expand.ListEnviron(os.Environ()...),
		autotabVars: make(map[string]string),
	}
}

func (de *DynamicEnviron) Get(name string) expand.Variable {
	if value, exists := de.autotabVars[name]; exists {
		return expand.Variable{
			Exported: true,
			Kind:     expand.String,
			Str:      value,
		}
	}
	return de.systemEnv.Get(name)
}

func (de *DynamicEnviron) Each(fn func(name string, vr expand.Variable) bool) {
	for name, value := range de.autotabVars {
		if !fn(name, expand.Variable{
			Exported: true,
			Kind:     expand.String,
			Str:      value,
		}) {
			return
		}
	}

	de.systemEnv.Each(func(name string, vr expand.Variable) bool {
		if _, isAutotab := de.autotabVars[name]; !isAutotab {
			return fn(name, vr)
		}
		return true
	})
}

func (de *DynamicEnviron) UpdateAutotabVar(name, value string) {
	de.autotabVars[name] = value
}

// IsAutotabVariable reports whether name is one autotab reads.
func IsAutotabVariable(name string) bool {
	for _, v := range autotabVariableNames {
		if name == v {
			return true
		}
	}
	return strings.HasPrefix(name, "AUTOTAB_")
}
