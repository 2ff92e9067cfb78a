package core

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// StdinArg stands for a script read from standard input.
const StdinArg = "-"

type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

type PathKind int

const (
	PathFile PathKind = iota
	PathDir
	PathStdin
)

type ParsedPath struct {
	FullPath string
	Kind     PathKind
}

// Script is a named command script ready to run.
type Script struct {
	Name string
	Text string
}

func ParseArgs(args []string) ([]ParsedPath, error) {
	if len(args) == 0 {
		return nil, &ValidationError{Arg: "<scripts>", Cause: "no scripts provided"}
	}

	var out []ParsedPath
	seenStdin := false

	for _, raw := range args {
		if raw == StdinArg {
			if seenStdin {
				return nil, &ValidationError{Arg: raw, Cause: "stdin given more than once"}
			}
			seenStdin = true
			out = append(out, ParsedPath{FullPath: raw, Kind: PathStdin})
			continue
		}

		p := filepath.Clean(raw)
		info, err := os.Stat(p)
		if err != nil {
			return nil, &ValidationError{Arg: raw, Cause: "not found or not accessible"}
		}

		kind := PathFile
		if info.IsDir() {
			kind = PathDir
		}

		out = append(out, ParsedPath{FullPath: p, Kind: kind})
	}

	return out, nil
}

// LoadScripts reads the scripts named by paths. A directory contributes every
// regular file directly inside it, sorted by name.
func LoadScripts(paths []ParsedPath, stdin io.Reader) ([]Script, error) {
	var scripts []Script

	for _, p := range paths {
		switch p.Kind {
		case PathStdin:
			data, err := io.ReadAll(stdin)
			if err != nil {
				return nil, fmt.Errorf("failed to read stdin: %w", err)
			}
			scripts = append(scripts, Script{Name: "stdin", Text: string(data)})

		case PathDir:
			entries, err := os.ReadDir(p.FullPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read directory %s: %w", p.FullPath, err)
			}
			for _, entry := range entries {
				if !entry.Type().IsRegular() {
					continue
				}
				s, err := readScript(filepath.Join(p.FullPath, entry.Name()))
				if err != nil {
					return nil, err
				}
				scripts = append(scripts, s)
			}

		default:
			s, err := readScript(p.FullPath)
			if err != nil {
				return nil, err
			}
			scripts = append(scripts, s)
		}
	}

	return scripts, nil
}

func readScript(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return Script{Name: path, Text: string(data)}, nil
}
