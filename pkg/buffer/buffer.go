// Package buffer implements versioned content buffers: named ordered
// sequences of items with commit history, branches, merges and diffs.
//
// A buffer is exclusively owned by one session. All mutating operations are
// atomic: on failure the buffer state is unchanged.
package buffer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auilabs/aui/pkg/protocol"
)

const MainBranch = "main"

// Version is an immutable snapshot in a buffer's history.
type Version struct {
	ID        string                    `json:"id"`
	Content   []protocol.Value          `json:"content"`
	Message   string                    `json:"message"`
	Timestamp time.Time                 `json:"timestamp"`
	ParentID  string                    `json:"parent_id,omitempty"`
	// Parent2ID is set on merge versions: the head of the merged-in branch.
	Parent2ID string                    `json:"parent2_id,omitempty"`
	Tags      []string                  `json:"tags,omitempty"`
	Metadata  map[string]protocol.Value `json:"metadata,omitempty"`
}

// Branch is a named pointer into the version graph.
type Branch struct {
	Name         string    `json:"name"`
	HeadID       string    `json:"head_version_id"`
	CreatedAt    time.Time `json:"created_at"`
	Description  string    `json:"description,omitempty"`
	ParentBranch string    `json:"parent_branch,omitempty"`
}

// Buffer is a named, versioned, ordered sequence of items.
type Buffer struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	Branches       map[string]*Branch  `json:"branches"`
	Versions       map[string]*Version `json:"versions"`
	CurrentBranch  string              `json:"current_branch"`
	WorkingContent []protocol.Value    `json:"working_content"`
	IsDirty        bool                `json:"is_dirty"`
	ContentSchema  string              `json:"content_schema,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`

	mu sync.Mutex
}

func bufErr(name, action, message string, cause error) error {
	return protocol.NewComponentError("buffer", action, fmt.Sprintf("buffer %q: %s", name, message), cause)
}

// versionID derives a short stable id from content, parentage, message and
// timestamp.
func versionID(content []protocol.Value, parentID, message string, ts time.Time) string {
	h := sha256.New()
	h.Write([]byte(parentID))
	h.Write([]byte{0})
	h.Write([]byte(message))
	h.Write([]byte{0})
	h.Write([]byte(protocol.List(content...).CanonicalJSON()))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(ts.UnixNano(), 10)))
	return hex.EncodeToString(h.Sum(nil))[:12]
}

func cloneContent(items []protocol.Value) []protocol.Value {
	return append([]protocol.Value(nil), items...)
}

func contentEqual(a, b []protocol.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// New creates a buffer with a root version on main holding initialContent.
func New(name string, initialContent []protocol.Value) *Buffer {
	now := time.Now()
	content := cloneContent(initialContent)

	root := &Version{
		ID:        versionID(content, "", "initial", now),
		Content:   content,
		Message:   "initial",
		Timestamp: now,
	}

	b := &Buffer{
		ID:   uuid.NewString(),
		Name: name,
		Branches: map[string]*Branch{
			MainBranch: {Name: MainBranch, HeadID: root.ID, CreatedAt: now},
		},
		Versions:       map[string]*Version{root.ID: root},
		CurrentBranch:  MainBranch,
		WorkingContent: cloneContent(content),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return b
}

func (b *Buffer) currentHead() *Version {
	branch := b.Branches[b.CurrentBranch]
	if branch == nil {
		return nil
	}
	return b.Versions[branch.HeadID]
}

func (b *Buffer) refreshDirty() {
	head := b.currentHead()
	b.IsDirty = head == nil || !contentEqual(b.WorkingContent, head.Content)
}

// SetWorkingContent replaces the working copy.
func (b *Buffer) SetWorkingContent(items []protocol.Value) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.WorkingContent = cloneContent(items)
	b.refreshDirty()
	b.UpdatedAt = time.Now()
}

// Append adds items to the working copy.
func (b *Buffer) Append(items []protocol.Value) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.WorkingContent = append(b.WorkingContent, items...)
	b.refreshDirty()
	b.UpdatedAt = time.Now()
}

// Working returns a copy of the working content.
func (b *Buffer) Working() []protocol.Value {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneContent(b.WorkingContent)
}

// Commit snapshots the working content as a new version on the current
// branch. Fails with NothingToCommit when the working copy is clean.
func (b *Buffer) Commit(message string) (*Version, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.IsDirty {
		return nil, bufErr(b.Name, "Commit", "working content matches head", protocol.ErrNothingToCommit)
	}

	head := b.currentHead()
	now := time.Now()
	v := &Version{
		ID:        versionID(b.WorkingContent, head.ID, message, now),
		Content:   cloneContent(b.WorkingContent),
		Message:   message,
		Timestamp: now,
		ParentID:  head.ID,
	}

	b.Versions[v.ID] = v
	b.Branches[b.CurrentBranch].HeadID = v.ID
	b.IsDirty = false
	b.UpdatedAt = now
	return v, nil
}

// Rollback walks parent links from the current head and moves the branch
// head pointer backward. Versions past the new head stay addressable by id.
func (b *Buffer) Rollback(steps int) (*Version, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if steps < 1 {
		steps = 1
	}

	v := b.currentHead()
	for i := 0; i < steps; i++ {
		if v == nil || v.ParentID == "" {
			return nil, bufErr(b.Name, "Rollback",
				fmt.Sprintf("history exhausted after %d of %d steps", i, steps), protocol.ErrNoSuchAncestor)
		}
		v = b.Versions[v.ParentID]
	}
	if v == nil {
		return nil, bufErr(b.Name, "Rollback", "dangling parent link", protocol.ErrNoSuchAncestor)
	}

	b.WorkingContent = cloneContent(v.Content)
	b.Branches[b.CurrentBranch].HeadID = v.ID
	b.IsDirty = false
	b.UpdatedAt = time.Now()
	return v, nil
}

// CreateBranch creates a branch pointing at the current head.
func (b *Buffer) CreateBranch(branchName, description string) (*Branch, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.Branches[branchName]; exists {
		return nil, bufErr(b.Name, "CreateBranch",
			fmt.Sprintf("branch %q", branchName), protocol.ErrBranchExists)
	}

	head := b.currentHead()
	branch := &Branch{
		Name:         branchName,
		HeadID:       head.ID,
		CreatedAt:    time.Now(),
		Description:  description,
		ParentBranch: b.CurrentBranch,
	}
	b.Branches[branchName] = branch
	b.UpdatedAt = branch.CreatedAt
	return branch, nil
}

// SwitchBranch moves the working copy to another branch's head. Fails with
// UncommittedChanges when the working copy is dirty.
func (b *Buffer) SwitchBranch(branchName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	branch, ok := b.Branches[branchName]
	if !ok {
		return bufErr(b.Name, "SwitchBranch",
			fmt.Sprintf("branch %q", branchName), protocol.ErrNotFound)
	}
	if b.IsDirty {
		return bufErr(b.Name, "SwitchBranch", "commit or discard working changes first", protocol.ErrUncommittedChanges)
	}

	b.CurrentBranch = branchName
	b.WorkingContent = cloneContent(b.Versions[branch.HeadID].Content)
	b.IsDirty = false
	b.UpdatedAt = time.Now()
	return nil
}

// History walks the parent chain from the current head, newest first.
// A limit of 0 returns the full chain.
func (b *Buffer) History(limit int) []*Version {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*Version
	v := b.currentHead()
	for v != nil {
		out = append(out, v)
		if limit > 0 && len(out) >= limit {
			break
		}
		if v.ParentID == "" {
			break
		}
		v = b.Versions[v.ParentID]
	}
	return out
}

// Version returns a version by id.
func (b *Buffer) Version(id string) (*Version, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.Versions[id]
	if !ok {
		return nil, bufErr(b.Name, "Version", fmt.Sprintf("version %q", id), protocol.ErrNotFound)
	}
	return v, nil
}

// Head returns the current branch head.
func (b *Buffer) Head() *Version {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentHead()
}
