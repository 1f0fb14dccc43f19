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
	"errors"
	"fmt"

	"trpc.group/trpc-go/trpc-reviewpipe-go/pipeline"
)

// StagePublish is the name of the publish stage. Plans mark it optional, so
// the orchestrator records its failure under StateKeyPublishError and the
// synthesized report stays readable in session state.
const StagePublish = "github_publish"

// Publisher posts a finished review report back to the code host.
type Publisher interface {
	Publish(ctx context.Context, ref Context, report string) (*ReviewRef, error)
}

// NewPublishStage wraps a Publisher as the pipeline's publish stage.
func NewPublishStage(p Publisher) pipeline.Stage {
	inputs := []string{StateKeyGitHubContext, StateKeyFinalReport}
	outputs := []string{StateKeyReviewURL, StateKeyCommentID}
	return pipeline.NewStage(StagePublish, inputs, outputs,
		func(ctx context.Context, in pipeline.State) (pipeline.StateDelta, error) {
			var ref Context
			if data, ok := in[StateKeyGitHubContext]; ok {
				if err := json.Unmarshal(data, &ref); err != nil {
					return nil, fmt.Errorf("decode %s: %w", StateKeyGitHubContext, err)
				}
			}
			if err := ref.Validate(); err != nil {
				return nil, err
			}

			var report string
			if data, ok := in[StateKeyFinalReport]; ok {
				if err := json.Unmarshal(data, &report); err != nil {
					return nil, fmt.Errorf("decode %s: %w", StateKeyFinalReport, err)
				}
			}
			if report == "" {
				return nil, errors.New("no review report available to post")
			}

			result, err := p.Publish(ctx, ref, report)
			if err != nil {
				return nil, err
			}

			urlData, err := json.Marshal(result.URL)
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", StateKeyReviewURL, err)
			}
			idData, err := json.Marshal(result.CommentID)
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", StateKeyCommentID, err)
			}
			return pipeline.StateDelta{
				StateKeyReviewURL: urlData,
				StateKeyCommentID: idData,
			}, nil
		})
}
