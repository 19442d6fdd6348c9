package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/google/shlex"
)

// splitCommandLine splits a line into arguments with shell quoting rules.
// A '#' starting a word comments out the rest of the line.
func splitCommandLine(line string) ([]string, error) {
	args, err := shlex.Split(line)
	if err != nil {
		return nil, fmt.Errorf("cannot split %q: %w", line, err)
	}
	return args, nil
}

// readCommands reads one command per line. Blank lines and lines starting
// with '#' are skipped.
func readCommands(r io.Reader) ([][]string, error) {
	var commands [][]string

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		args, err := splitCommandLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if len(args) == 0 {
			continue
		}
		commands = append(commands, args)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return commands, nil
}
