package audio

import (
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// Runner executes pactl commands. The indirection keeps graph construction
// testable without a running audio server.
type Runner interface {
	// Run executes pactl with the given arguments and returns combined
	// output, trimmed.
	Run(args ...string) (string, error)
}

// ExecRunner runs pactl as a subprocess with a cleaned environment, since
// the plugin's own LD_LIBRARY_PATH/LD_PRELOAD would break system tools.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(args ...string) (string, error) {
	cmd := exec.Command("pactl", args...)
	cmd.Env = cleanEnv()
	out, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(out))
	if err != nil {
		return text, errors.Wrapf(err, "pactl %s", strings.Join(args, " "))
	}
	return text, nil
}

func cleanEnv() []string {
	env := make([]string, 0, len(os.Environ()))
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "LD_LIBRARY_PATH=") || strings.HasPrefix(kv, "LD_PRELOAD=") {
			continue
		}
		env = append(env, kv)
	}
	return env
}
