// Package interpreter maps a language identifier onto the shell command that
// runs the submitted source inside the sandbox image.
//
// The table is static: every command reads the source from the fixed
// in-container path ScriptPath, and the extension is only used to name the
// temp file on the host.
package interpreter

import (
	"fmt"
	"sort"

	"github.com/sakif/code-ingest/internal/apperror"
)

// ScriptPath is where the submitted source is mounted inside the container.
const ScriptPath = "/home/script"

// Interpreter describes how one language is executed.
type Interpreter struct {
	ID        string
	Command   string // run by /bin/sh -c
	Extension string // host temp file suffix, including the dot
}

// ErrUnknownInterpreter is returned by Resolve for ids not in the table.
var ErrUnknownInterpreter = &apperror.AppError{
	Err:     apperror.ErrValidation,
	Message: "unknown interpreter",
	Field:   "interpreter",
}

var registry = map[string]Interpreter{
	"python": {
		ID:        "python",
		Command:   "time python3 " + ScriptPath,
		Extension: ".py",
	},
	"gcc": {
		ID:        "gcc",
		Command:   "gcc -x c " + ScriptPath + " -o program; time ./program",
		Extension: ".c",
	},
	"cpp": {
		ID:        "cpp",
		Command:   "g++ -x c++ " + ScriptPath + " -o program; time ./program",
		Extension: ".cpp",
	},
}

// Resolve looks up a language id. Unknown ids are a validation failure and
// are never defaulted.
func Resolve(id string) (Interpreter, error) {
	in, ok := registry[id]
	if !ok {
		return Interpreter{}, fmt.Errorf("resolving %q: %w", id, ErrUnknownInterpreter)
	}
	return in, nil
}

// IDs returns the supported language ids in sorted order.
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
