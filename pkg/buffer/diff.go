package buffer

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/auilabs/aui/pkg/protocol"
)

// ItemChange is an item added or removed at an index.
type ItemChange struct {
	Index int            `json:"index"`
	Item  protocol.Value `json:"item"`
}

// ItemModification is an item changed in place. TextDiff carries a
// character-level summary when both sides are strings.
type ItemModification struct {
	Index    int            `json:"index"`
	From     protocol.Value `json:"from"`
	To       protocol.Value `json:"to"`
	TextDiff string         `json:"text_diff,omitempty"`
}

// DiffResult compares two versions item by item, with positions as item
// identity.
type DiffResult struct {
	FromVersionID string             `json:"from_version_id"`
	ToVersionID   string             `json:"to_version_id"`
	Added         []ItemChange       `json:"added,omitempty"`
	Removed       []ItemChange       `json:"removed,omitempty"`
	Modified      []ItemModification `json:"modified,omitempty"`
	Unchanged     int                `json:"unchanged"`
	Summary       string             `json:"summary"`
}

// WorkingRef names the working copy in Diff arguments.
const WorkingRef = "working"

// resolveRef maps a diff reference to content. Accepts a version id, a
// branch name, WorkingRef, or "" for the current head. Caller holds the
// lock.
func (b *Buffer) resolveRef(ref string) (string, []protocol.Value, error) {
	switch ref {
	case WorkingRef:
		return WorkingRef, b.WorkingContent, nil
	case "":
		head := b.currentHead()
		return head.ID, head.Content, nil
	}
	if branch, ok := b.Branches[ref]; ok {
		v := b.Versions[branch.HeadID]
		return v.ID, v.Content, nil
	}
	if v, ok := b.Versions[ref]; ok {
		return v.ID, v.Content, nil
	}
	return "", nil, bufErr(b.Name, "Diff", fmt.Sprintf("no version or branch %q", ref), protocol.ErrNotFound)
}

// Diff compares two references. Each reference may be a version id, a
// branch name, "working", or "" for the current head.
func (b *Buffer) Diff(fromRef, toRef string) (*DiffResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fromID, from, err := b.resolveRef(fromRef)
	if err != nil {
		return nil, err
	}
	toID, to, err := b.resolveRef(toRef)
	if err != nil {
		return nil, err
	}

	result := &DiffResult{FromVersionID: fromID, ToVersionID: toID}

	common := len(from)
	if len(to) < common {
		common = len(to)
	}
	for i := 0; i < common; i++ {
		if from[i].Equal(to[i]) {
			result.Unchanged++
			continue
		}
		mod := ItemModification{Index: i, From: from[i], To: to[i]}
		if from[i].Kind() == protocol.KindString && to[i].Kind() == protocol.KindString {
			mod.TextDiff = textDiff(from[i].Str(), to[i].Str())
		}
		result.Modified = append(result.Modified, mod)
	}
	for i := common; i < len(to); i++ {
		result.Added = append(result.Added, ItemChange{Index: i, Item: to[i]})
	}
	for i := common; i < len(from); i++ {
		result.Removed = append(result.Removed, ItemChange{Index: i, Item: from[i]})
	}

	result.Summary = fmt.Sprintf("+%d -%d ~%d =%d",
		len(result.Added), len(result.Removed), len(result.Modified), result.Unchanged)
	return result, nil
}

// textDiff renders a compact character diff, insertions as [+text] and
// deletions as [-text].
func textDiff(from, to string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(from, to, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var sb strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			sb.WriteString("[+")
			sb.WriteString(d.Text)
			sb.WriteString("]")
		case diffmatchpatch.DiffDelete:
			sb.WriteString("[-")
			sb.WriteString(d.Text)
			sb.WriteString("]")
		default:
			sb.WriteString(d.Text)
		}
	}
	return sb.String()
}
