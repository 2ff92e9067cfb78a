package main

import (
	"dirtree/internal/core"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("dirtree", flag.ContinueOnError)
	fs.SetOutput(stderr)
	zipPath := fs.String("zip", "", "write the final tree of the last script as a zip archive")
	showStats := fs.Bool("stats", false, "print statistics for each script to stderr")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: dirtree [-zip out.zip] [-stats] <script|dir|->...\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	parsedPaths, err := core.ParseArgs(fs.Args())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	scripts, err := core.LoadScripts(parsedPaths, stdin)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var last *core.Result
	for _, script := range scripts {
		last = core.ExecuteReport(core.NewFiletree(), script.Text)
		io.WriteString(stdout, last.Transcript)

		if *showStats {
			s := last.Stats()
			fmt.Fprintf(stderr, "%s: %d lines, %d applied, %d dirs, depth %d, %s output\n",
				script.Name, s.Lines, s.Applied, s.Dirs, s.MaxDepth, humanize.Bytes(uint64(s.OutputLen)))
		}
	}

	if *zipPath != "" && last != nil {
		zipBytes, err := last.Tree.ToZipBytes()
		if err != nil {
			fmt.Fprintf(stderr, "Error archiving tree: %v\n", err)
			return 1
		}
		if err := os.WriteFile(*zipPath, zipBytes, 0644); err != nil {
			fmt.Fprintf(stderr, "Error writing %s: %v\n", *zipPath, err)
			return 1
		}
		fmt.Fprintf(stderr, "✓ Wrote %s (%s)\n", *zipPath, humanize.Bytes(uint64(len(zipBytes))))
	}

	return 0
}
