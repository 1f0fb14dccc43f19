//
// Tencent is pleased to support the open source community by making trpc-reviewpipe-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-reviewpipe-go is licensed under the Apache License Version 2.0.
//
//

package review

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// findingsDoc is the YAML shape of an analyzer's fenced findings block.
type findingsDoc struct {
	Summary    string         `yaml:"summary"`
	Confidence float64        `yaml:"confidence"`
	Severity   map[string]int `yaml:"severity"`
	Findings   []Finding      `yaml:"findings"`
}

var markdown = goldmark.New()

// ParseAnalysis extracts structured findings from analyzer markdown. The
// findings live in the first fenced yaml code block; the block is removed
// from the report body. Output without a parseable block degrades to a
// report-only Analysis with a parse warning, never an error, so a sloppy
// analyzer still contributes its text.
func ParseAnalysis(analyzer, output string) *Analysis {
	analysis := &Analysis{Analyzer: analyzer, Report: strings.TrimSpace(output)}

	source := []byte(output)
	block, start, end := findingsBlock(source)
	if block == nil {
		analysis.Warning = "no findings block"
		return analysis
	}

	var doc findingsDoc
	if err := yaml.Unmarshal(block, &doc); err != nil {
		analysis.Warning = "invalid findings block: " + err.Error()
		return analysis
	}

	analysis.Summary = doc.Summary
	analysis.Confidence = doc.Confidence
	analysis.Severity = doc.Severity
	analysis.Findings = doc.Findings
	analysis.Report = strings.TrimSpace(string(source[:start]) + string(source[end:]))
	return analysis
}

// findingsBlock locates the first fenced yaml block and returns its content
// plus the byte range of the whole block including the fence delimiters.
func findingsBlock(source []byte) (content []byte, start, end int) {
	reader := text.NewReader(source)
	doc := markdown.Parser().Parse(reader)

	var fence *ast.FencedCodeBlock
	_ = ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		block, ok := node.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		lang := string(block.Language(source))
		if lang != "yaml" && lang != "yml" {
			return ast.WalkContinue, nil
		}
		fence = block
		return ast.WalkStop, nil
	})
	if fence == nil || fence.Lines().Len() == 0 {
		return nil, 0, 0
	}

	var buf bytes.Buffer
	lines := fence.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}

	// Widen the inner line range to cover the fence delimiter lines.
	start = lines.At(0).Start
	if idx := bytes.LastIndexByte(source[:start-1], '\n'); idx >= 0 {
		start = idx + 1
	} else {
		start = 0
	}
	end = lines.At(lines.Len() - 1).Stop
	if idx := bytes.IndexByte(source[end:], '\n'); idx >= 0 {
		end += idx + 1
	} else {
		end = len(source)
	}
	return buf.Bytes(), start, end
}
