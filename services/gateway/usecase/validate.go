// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package usecase

import (
	"context"

	"github.com/AleutianAI/ModelForge/services/gateway/tool"
)

// ValidateModel checks the structural invariants of the current project and
// reports violations without mutating anything.
func (s *Services) ValidateModel(ctx context.Context) *tool.Response {
	rev, snap, err := s.CurrentRevision(ctx)
	if err != nil {
		return s.portFailure("read snapshot", err)
	}
	problems := snap.Validate()
	if problems == nil {
		problems = []string{}
	}
	return tool.OK(map[string]any{
		"revision": rev,
		"valid":    len(problems) == 0,
		"problems": problems,
	})
}
