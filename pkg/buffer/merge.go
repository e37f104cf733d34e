package buffer

import (
	"fmt"
	"time"

	"github.com/auilabs/aui/pkg/protocol"
)

// MergeStrategy selects how diverging branches are reconciled.
type MergeStrategy string

const (
	// MergeAuto three-way merges item by item and fails on conflicts.
	MergeAuto MergeStrategy = "auto"
	// MergeOurs keeps the current branch's content.
	MergeOurs MergeStrategy = "ours"
	// MergeTheirs takes the source branch's content.
	MergeTheirs MergeStrategy = "theirs"
	// MergeUnion concatenates ours with theirs' items not already present.
	MergeUnion MergeStrategy = "union"
)

// Conflict is one index where both branches changed the same item since
// their common ancestor.
type Conflict struct {
	Index  int             `json:"index"`
	Base   *protocol.Value `json:"base,omitempty"`
	Ours   *protocol.Value `json:"ours,omitempty"`
	Theirs *protocol.Value `json:"theirs,omitempty"`
}

// MergeResult reports the outcome of a merge. On conflict Success is false,
// Conflicts is populated and the buffer is unchanged.
type MergeResult struct {
	Success      bool             `json:"success"`
	NewVersionID string           `json:"new_version_id,omitempty"`
	Content      []protocol.Value `json:"content,omitempty"`
	Conflicts    []Conflict       `json:"conflicts,omitempty"`
}

// Merge merges sourceBranch into the current branch using the given
// strategy. A successful merge commits a version with both parents and
// leaves the working copy clean.
func (b *Buffer) Merge(sourceBranch string, strategy MergeStrategy, message string) (*MergeResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	source, ok := b.Branches[sourceBranch]
	if !ok {
		return nil, bufErr(b.Name, "Merge", fmt.Sprintf("branch %q", sourceBranch), protocol.ErrNotFound)
	}
	if sourceBranch == b.CurrentBranch {
		return nil, bufErr(b.Name, "Merge", "cannot merge a branch into itself", protocol.ErrInvalidArgs)
	}
	if b.IsDirty {
		return nil, bufErr(b.Name, "Merge", "commit or discard working changes first", protocol.ErrUncommittedChanges)
	}

	ours := b.currentHead()
	theirs := b.Versions[source.HeadID]

	if strategy == "" {
		strategy = MergeAuto
	}

	var merged []protocol.Value
	switch strategy {
	case MergeOurs:
		merged = cloneContent(ours.Content)
	case MergeTheirs:
		merged = cloneContent(theirs.Content)
	case MergeUnion:
		merged = unionContent(ours.Content, theirs.Content)
	case MergeAuto:
		base := b.mergeBase(ours, theirs)
		var baseContent []protocol.Value
		if base != nil {
			baseContent = base.Content
		}
		var conflicts []Conflict
		merged, conflicts = threeWayMerge(baseContent, ours.Content, theirs.Content)
		if len(conflicts) > 0 {
			return &MergeResult{Success: false, Conflicts: conflicts}, bufErr(b.Name, "Merge",
				fmt.Sprintf("%d conflicting item(s)", len(conflicts)), protocol.ErrMergeConflict)
		}
	default:
		return nil, bufErr(b.Name, "Merge", fmt.Sprintf("unknown strategy %q", strategy), protocol.ErrInvalidArgs)
	}

	if message == "" {
		message = fmt.Sprintf("merge %s into %s", sourceBranch, b.CurrentBranch)
	}

	now := time.Now()
	v := &Version{
		ID:        versionID(merged, ours.ID, message, now),
		Content:   cloneContent(merged),
		Message:   message,
		Timestamp: now,
		ParentID:  ours.ID,
		Parent2ID: theirs.ID,
	}
	b.Versions[v.ID] = v
	b.Branches[b.CurrentBranch].HeadID = v.ID
	b.WorkingContent = cloneContent(merged)
	b.IsDirty = false
	b.UpdatedAt = now

	return &MergeResult{Success: true, NewVersionID: v.ID, Content: cloneContent(merged)}, nil
}

// mergeBase finds the nearest common ancestor of two versions, following
// both parents of merge versions. Returns nil when histories are disjoint.
func (b *Buffer) mergeBase(ours, theirs *Version) *Version {
	seen := map[string]bool{}
	for queue := []*Version{ours}; len(queue) > 0; {
		v := queue[0]
		queue = queue[1:]
		if v == nil || seen[v.ID] {
			continue
		}
		seen[v.ID] = true
		if v.ParentID != "" {
			queue = append(queue, b.Versions[v.ParentID])
		}
		if v.Parent2ID != "" {
			queue = append(queue, b.Versions[v.Parent2ID])
		}
	}

	for queue := []*Version{theirs}; len(queue) > 0; {
		v := queue[0]
		queue = queue[1:]
		if v == nil {
			continue
		}
		if seen[v.ID] {
			return v
		}
		if v.ParentID != "" {
			queue = append(queue, b.Versions[v.ParentID])
		}
		if v.Parent2ID != "" {
			queue = append(queue, b.Versions[v.Parent2ID])
		}
	}
	return nil
}

// threeWayMerge merges index-aligned item sequences. An item changed on one
// side only takes that side's value; changed on both sides to different
// values is a conflict.
func threeWayMerge(base, ours, theirs []protocol.Value) ([]protocol.Value, []Conflict) {
	longest := len(base)
	if len(ours) > longest {
		longest = len(ours)
	}
	if len(theirs) > longest {
		longest = len(theirs)
	}

	var merged []protocol.Value
	var conflicts []Conflict

	at := func(items []protocol.Value, i int) *protocol.Value {
		if i < len(items) {
			v := items[i]
			return &v
		}
		return nil
	}
	same := func(a, b *protocol.Value) bool {
		if a == nil || b == nil {
			return a == nil && b == nil
		}
		return a.Equal(*b)
	}

	for i := 0; i < longest; i++ {
		bi, oi, ti := at(base, i), at(ours, i), at(theirs, i)

		var pick *protocol.Value
		switch {
		case same(oi, ti):
			pick = oi
		case same(oi, bi):
			pick = ti
		case same(ti, bi):
			pick = oi
		default:
			conflicts = append(conflicts, Conflict{Index: i, Base: bi, Ours: oi, Theirs: ti})
			continue
		}
		if pick != nil {
			merged = append(merged, *pick)
		}
	}

	if len(conflicts) > 0 {
		return nil, conflicts
	}
	return merged, nil
}

// unionContent appends theirs' items that have no equal item in ours.
func unionContent(ours, theirs []protocol.Value) []protocol.Value {
	merged := cloneContent(ours)
	for _, item := range theirs {
		present := false
		for _, existing := range ours {
			if existing.Equal(item) {
				present = true
				break
			}
		}
		if !present {
			merged = append(merged, item)
		}
	}
	return merged
}
