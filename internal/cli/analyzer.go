//
// Tencent is pleased to support the open source community by making trpc-reviewpipe-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-reviewpipe-go is licensed under the Apache License Version 2.0.
//
//

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"trpc.group/trpc-go/trpc-reviewpipe-go/review"
)

// parseAnalyzerSpecs turns --analyzer flag values into analyzers. The spec
// form is "name[:glob[,glob...]]=command [args...]". The command line is
// split on whitespace; there is no shell quoting.
func parseAnalyzerSpecs(specs []string) ([]review.Analyzer, error) {
	analyzers := make([]review.Analyzer, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		a, err := parseAnalyzerSpec(spec)
		if err != nil {
			return nil, err
		}
		if seen[a.Name()] {
			return nil, fmt.Errorf("duplicate analyzer name %q", a.Name())
		}
		seen[a.Name()] = true
		analyzers = append(analyzers, a)
	}
	return analyzers, nil
}

func parseAnalyzerSpec(spec string) (review.Analyzer, error) {
	head, command, found := strings.Cut(spec, "=")
	if !found || strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("analyzer spec %q: want name[:glob[,glob...]]=command", spec)
	}
	name, globs, _ := strings.Cut(head, ":")
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("analyzer spec %q: empty name", spec)
	}

	var patterns []string
	for _, g := range strings.Split(globs, ",") {
		if g = strings.TrimSpace(g); g != "" {
			patterns = append(patterns, g)
		}
	}
	argv := strings.Fields(command)
	return review.NewMarkdownAnalyzer(name, patterns, execReport(name, argv)), nil
}

// execReport adapts an external command to a review.ReportFunc. The command
// gets the pull request as JSON on stdin and must print the analysis
// markdown on stdout; a non-zero exit fails the (optional) analysis stage.
func execReport(name string, argv []string) review.ReportFunc {
	return func(ctx context.Context, pr *review.PullRequest) (string, error) {
		payload, err := json.Marshal(pr)
		if err != nil {
			return "", fmt.Errorf("encode pull request for %s: %w", name, err)
		}
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Stdin = bytes.NewReader(payload)
		out, err := cmd.Output()
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
				return "", fmt.Errorf("analyzer %s: %w: %s", name, err, firstLine(exitErr.Stderr))
			}
			return "", fmt.Errorf("analyzer %s: %w", name, err)
		}
		return string(out), nil
	}
}

func firstLine(b []byte) string {
	line, _, _ := strings.Cut(strings.TrimSpace(string(b)), "\n")
	return line
}
