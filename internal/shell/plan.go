// Package shell runs user commands inside a Stable Diffusion checkout,
// activating its Python environment first when one is present.
package shell

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Mode names how the environment was activated.
type Mode string

const (
	ModeVenv   Mode = "venv"   // venv/bin/activate sourced before the command
	ModeDirenv Mode = "direnv" // command wrapped in `direnv exec`
	ModePlain  Mode = "plain"  // no environment found
)

// Invocation is a fully resolved process to start.
type Invocation struct {
	Mode    Mode
	Program string
	Args    []string
	Dir     string
	Shell   string // the shell string handed to the program
}

// Plan inspects dir and wraps command for the environment it finds:
// venv/bin/activate first, then .direnv, then a plain shell.
func Plan(dir, command, goos string) Invocation {
	if goos == "" {
		goos = runtime.GOOS
	}

	var mode Mode
	var shell string
	switch {
	case exists(filepath.Join(dir, "venv", "bin", "activate")):
		mode = ModeVenv
		shell = "source venv/bin/activate && " + command
	case exists(filepath.Join(dir, ".direnv")):
		mode = ModeDirenv
		shell = "direnv exec " + Quote(dir) + " " + command
	default:
		mode = ModePlain
		if goos == "windows" {
			return Invocation{
				Mode:    mode,
				Program: "cmd",
				Args:    []string{"/C", command},
				Dir:     dir,
				Shell:   "cmd /C " + command,
			}
		}
		shell = "sh -c " + Quote(command)
	}

	return Invocation{
		Mode:    mode,
		Program: "bash",
		Args:    []string{"-c", shell},
		Dir:     dir,
		Shell:   shell,
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Quote wraps s in single quotes for a POSIX shell.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`!*?[]{}()<>|&;#~=%") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
