// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compiler

import (
	"context"

	"github.com/AleutianAI/Quill/services/quill/extract"
	"github.com/AleutianAI/Quill/services/quill/qual"
)

// ruleStrategy runs the extractor pipeline. It is deterministic and
// cannot fail; worst case it emits the default or empty qualification.
type ruleStrategy struct {
	assembler *extract.Assembler
}

func (s *ruleStrategy) Name() string { return StrategyRules }

func (s *ruleStrategy) Generate(ctx context.Context, prompt string) (Outcome, error) {
	out := s.assembler.Assemble(ctx, prompt)
	return Outcome{
		Payload:     out.Payload,
		IncludedIDs: out.IncludedIDs,
		Diagnostics: out.Diagnostics,
	}, nil
}

// staticStrategy is the terminal fallback: an empty qualification,
// meaning "all records". It exists so the facade always has a valid
// answer to hand back.
type staticStrategy struct{}

func (staticStrategy) Name() string { return StrategyStatic }

func (staticStrategy) Generate(context.Context, string) (Outcome, error) {
	return Outcome{Payload: qual.Empty()}, nil
}
