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
	"context"
	"encoding/json"
	"fmt"

	"trpc.group/trpc-go/trpc-reviewpipe-go/pipeline"
)

// StageFetch is the name of the fetch stage. When a plan marks it optional
// the orchestrator records its failure under StateKeyFetchError.
const StageFetch = "github_fetch"

// Fetcher retrieves a pull request and its changed files from a code host.
// Implementations map host failures to pipeline.StageError kinds so the
// orchestrator can distinguish rate limits from credential problems.
type Fetcher interface {
	Fetch(ctx context.Context, ref Context) (*PullRequest, error)
}

// NewFetchStage wraps a Fetcher as the pipeline's fetch stage. The stage is
// meant to run first and required: without change data there is nothing to
// analyze.
func NewFetchStage(f Fetcher) pipeline.Stage {
	inputs := []string{StateKeyGitHubContext}
	outputs := []string{StateKeyPRData, StateKeyPRFiles, StateKeyPRMetadata, StateKeyPRStats}
	return pipeline.NewStage(StageFetch, inputs, outputs,
		func(ctx context.Context, in pipeline.State) (pipeline.StateDelta, error) {
			data, ok := in[StateKeyGitHubContext]
			if !ok {
				return nil, fmt.Errorf("no %s in session state", StateKeyGitHubContext)
			}
			var ref Context
			if err := json.Unmarshal(data, &ref); err != nil {
				return nil, fmt.Errorf("decode %s: %w", StateKeyGitHubContext, err)
			}
			if err := ref.Validate(); err != nil {
				return nil, err
			}

			pr, err := f.Fetch(ctx, ref)
			if err != nil {
				return nil, err
			}

			delta := make(pipeline.StateDelta, 4)
			for key, v := range map[string]any{
				StateKeyPRData:     pr,
				StateKeyPRFiles:    pr.Files,
				StateKeyPRMetadata: pr.Metadata,
				StateKeyPRStats:    pr.Stats,
			} {
				encoded, err := json.Marshal(v)
				if err != nil {
					return nil, fmt.Errorf("encode %s: %w", key, err)
				}
				delta[key] = encoded
			}
			return delta, nil
		})
}
