// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package project

// CollectionDelta is the added/removed/changed tally for one collection.
type CollectionDelta struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Changed int `json:"changed"`
}

// DiffCounts tallies every collection of a snapshot.
type DiffCounts struct {
	Bones      CollectionDelta `json:"bones"`
	Cubes      CollectionDelta `json:"cubes"`
	Meshes     CollectionDelta `json:"meshes"`
	Textures   CollectionDelta `json:"textures"`
	Animations CollectionDelta `json:"animations"`
}

// CollectionSets lists the matching keys behind a CollectionDelta. Keys are
// item ids when present, else names.
type CollectionSets struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Changed []string `json:"changed,omitempty"`
}

// DiffSets holds per-collection key sets; only populated on request.
type DiffSets struct {
	Bones      CollectionSets `json:"bones"`
	Cubes      CollectionSets `json:"cubes"`
	Meshes     CollectionSets `json:"meshes"`
	Textures   CollectionSets `json:"textures"`
	Animations CollectionSets `json:"animations"`
}

// DiffResult is the structural difference between two snapshots.
type DiffResult struct {
	Counts DiffCounts `json:"counts"`
	Sets   *DiffSets  `json:"sets,omitempty"`
}

// diffItem is the per-item view the generic differ works over.
type diffItem struct {
	key  string
	body any
}

// Diff computes the structural difference from previous to current.
//
// # Description
//
// Items match by id when present, else by name. A matched item counts as
// changed when its canonical JSON differs. Added and changed items are
// reported in current's insertion order; removed items in previous's
// insertion order. A nil previous snapshot diffs as all-added.
//
// # Inputs
//
//   - previous: diff base, may be nil.
//   - current: snapshot to report against, must be non-nil.
//   - includeSets: when true, the result carries per-collection key sets.
//
// # Outputs
//
//   - *DiffResult: counts (always) and sets (on request).
//   - error: non-nil only when an item fails canonical serialization.
func Diff(previous, current *Snapshot, includeSets bool) (*DiffResult, error) {
	if previous == nil {
		previous = &Snapshot{}
	}
	res := &DiffResult{}
	if includeSets {
		res.Sets = &DiffSets{}
	}

	collect := func(delta *CollectionDelta, sets *CollectionSets, prev, cur []diffItem) error {
		prevByKey := make(map[string][]byte, len(prev))
		for _, it := range prev {
			canonical, err := CanonicalJSON(it.body)
			if err != nil {
				return err
			}
			prevByKey[it.key] = canonical
		}
		seen := make(map[string]bool, len(cur))
		for _, it := range cur {
			seen[it.key] = true
			prevCanonical, ok := prevByKey[it.key]
			if !ok {
				delta.Added++
				if sets != nil {
					sets.Added = append(sets.Added, it.key)
				}
				continue
			}
			curCanonical, err := CanonicalJSON(it.body)
			if err != nil {
				return err
			}
			if string(prevCanonical) != string(curCanonical) {
				delta.Changed++
				if sets != nil {
					sets.Changed = append(sets.Changed, it.key)
				}
			}
		}
		for _, it := range prev {
			if !seen[it.key] {
				delta.Removed++
				if sets != nil {
					sets.Removed = append(sets.Removed, it.key)
				}
			}
		}
		return nil
	}

	var setsFor = func(pick func(*DiffSets) *CollectionSets) *CollectionSets {
		if res.Sets == nil {
			return nil
		}
		return pick(res.Sets)
	}

	if err := collect(&res.Counts.Bones, setsFor(func(s *DiffSets) *CollectionSets { return &s.Bones }),
		boneItems(previous), boneItems(current)); err != nil {
		return nil, err
	}
	if err := collect(&res.Counts.Cubes, setsFor(func(s *DiffSets) *CollectionSets { return &s.Cubes }),
		cubeItems(previous), cubeItems(current)); err != nil {
		return nil, err
	}
	if err := collect(&res.Counts.Meshes, setsFor(func(s *DiffSets) *CollectionSets { return &s.Meshes }),
		meshItems(previous), meshItems(current)); err != nil {
		return nil, err
	}
	if err := collect(&res.Counts.Textures, setsFor(func(s *DiffSets) *CollectionSets { return &s.Textures }),
		textureItems(previous), textureItems(current)); err != nil {
		return nil, err
	}
	if err := collect(&res.Counts.Animations, setsFor(func(s *DiffSets) *CollectionSets { return &s.Animations }),
		animationItems(previous), animationItems(current)); err != nil {
		return nil, err
	}
	return res, nil
}

func itemKey(id, name string) string {
	if id != "" {
		return id
	}
	return name
}

func boneItems(s *Snapshot) []diffItem {
	out := make([]diffItem, len(s.Bones))
	for i, b := range s.Bones {
		out[i] = diffItem{key: itemKey(b.ID, b.Name), body: b}
	}
	return out
}

func cubeItems(s *Snapshot) []diffItem {
	out := make([]diffItem, len(s.Cubes))
	for i, c := range s.Cubes {
		out[i] = diffItem{key: itemKey(c.ID, c.Name), body: c}
	}
	return out
}

func meshItems(s *Snapshot) []diffItem {
	out := make([]diffItem, len(s.Meshes))
	for i, m := range s.Meshes {
		out[i] = diffItem{key: itemKey(m.ID, m.Name), body: m}
	}
	return out
}

func textureItems(s *Snapshot) []diffItem {
	out := make([]diffItem, len(s.Textures))
	for i, t := range s.Textures {
		out[i] = diffItem{key: itemKey(t.ID, t.Name), body: t}
	}
	return out
}

func animationItems(s *Snapshot) []diffItem {
	out := make([]diffItem, len(s.Animations))
	for i, a := range s.Animations {
		out[i] = diffItem{key: itemKey(a.ID, a.Name), body: a}
	}
	return out
}
