package aui

import (
	"context"
	"fmt"
	"sort"

	"github.com/auilabs/aui/pkg/buffer"
	"github.com/auilabs/aui/pkg/protocol"
	"github.com/auilabs/aui/pkg/session"
)

// CreateBuffer adds a named versioned buffer to the session and makes it
// the active buffer.
func (s *Service) CreateBuffer(ctx context.Context, sessionID, name string, initial []protocol.Value) (*buffer.Buffer, error) {
	sess, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess.Lock()
	if _, exists := sess.Buffers[name]; exists {
		sess.Unlock()
		return nil, svcErr("CreateBuffer", fmt.Sprintf("buffer %q already exists", name), protocol.ErrInvalidArgs)
	}
	b := buffer.New(name, initial)
	sess.Buffers[name] = b
	sess.ActiveBufferName = name
	sess.Unlock()

	s.persistSession(ctx, sess)
	return b, nil
}

// GetBuffer returns a session's buffer by name.
func (s *Service) GetBuffer(ctx context.Context, sessionID, name string) (*buffer.Buffer, error) {
	sess, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return bufferOf(sess, name)
}

// ListBuffers returns the session's buffers, sorted by name.
func (s *Service) ListBuffers(ctx context.Context, sessionID string) ([]*buffer.Buffer, error) {
	sess, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sess.Lock()
	out := make([]*buffer.Buffer, 0, len(sess.Buffers))
	for _, b := range sess.Buffers {
		out = append(out, b)
	}
	sess.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SetBufferContent replaces the buffer's working content.
func (s *Service) SetBufferContent(ctx context.Context, sessionID, name string, items []protocol.Value) error {
	sess, b, err := s.sessionBuffer(ctx, sessionID, name)
	if err != nil {
		return err
	}
	b.SetWorkingContent(items)
	s.persistSession(ctx, sess)
	return nil
}

// AppendToBuffer appends items to the buffer's working content.
func (s *Service) AppendToBuffer(ctx context.Context, sessionID, name string, items []protocol.Value) error {
	sess, b, err := s.sessionBuffer(ctx, sessionID, name)
	if err != nil {
		return err
	}
	b.Append(items)
	s.persistSession(ctx, sess)
	return nil
}

// CommitBuffer commits the working content as a new version.
func (s *Service) CommitBuffer(ctx context.Context, sessionID, name, message string) (*buffer.Version, error) {
	sess, b, err := s.sessionBuffer(ctx, sessionID, name)
	if err != nil {
		return nil, err
	}
	v, err := b.Commit(message)
	if err != nil {
		return nil, err
	}
	s.persistSession(ctx, sess)
	return v, nil
}

// RollbackBuffer moves the branch head back the given number of steps.
func (s *Service) RollbackBuffer(ctx context.Context, sessionID, name string, steps int) (*buffer.Version, error) {
	sess, b, err := s.sessionBuffer(ctx, sessionID, name)
	if err != nil {
		return nil, err
	}
	v, err := b.Rollback(steps)
	if err != nil {
		return nil, err
	}
	s.persistSession(ctx, sess)
	return v, nil
}

// BufferHistory walks the current branch's parent chain, newest first.
func (s *Service) BufferHistory(ctx context.Context, sessionID, name string, limit int) ([]*buffer.Version, error) {
	_, b, err := s.sessionBuffer(ctx, sessionID, name)
	if err != nil {
		return nil, err
	}
	return b.History(limit), nil
}

// CreateBufferBranch forks a branch at the current head.
func (s *Service) CreateBufferBranch(ctx context.Context, sessionID, name, branchName, description string) (*buffer.Branch, error) {
	sess, b, err := s.sessionBuffer(ctx, sessionID, name)
	if err != nil {
		return nil, err
	}
	br, err := b.CreateBranch(branchName, description)
	if err != nil {
		return nil, err
	}
	s.persistSession(ctx, sess)
	return br, nil
}

// SwitchBufferBranch moves the buffer to another branch.
func (s *Service) SwitchBufferBranch(ctx context.Context, sessionID, name, branchName string) error {
	sess, b, err := s.sessionBuffer(ctx, sessionID, name)
	if err != nil {
		return err
	}
	if err := b.SwitchBranch(branchName); err != nil {
		return err
	}
	s.persistSession(ctx, sess)
	return nil
}

// MergeBufferBranch merges a source branch into the current branch.
func (s *Service) MergeBufferBranch(ctx context.Context, sessionID, name, sourceBranch string, strategy buffer.MergeStrategy, message string) (*buffer.MergeResult, error) {
	sess, b, err := s.sessionBuffer(ctx, sessionID, name)
	if err != nil {
		return nil, err
	}
	result, err := b.Merge(sourceBranch, strategy, message)
	if err != nil {
		return result, err
	}
	s.persistSession(ctx, sess)
	return result, nil
}

// DiffBuffer compares two refs (version ids, branch names, or "working").
func (s *Service) DiffBuffer(ctx context.Context, sessionID, name, from, to string) (*buffer.DiffResult, error) {
	_, b, err := s.sessionBuffer(ctx, sessionID, name)
	if err != nil {
		return nil, err
	}
	return b.Diff(from, to)
}

func (s *Service) sessionBuffer(ctx context.Context, sessionID, name string) (*session.Session, *buffer.Buffer, error) {
	sess, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	b, err := bufferOf(sess, name)
	if err != nil {
		return nil, nil, err
	}
	return sess, b, nil
}

func bufferOf(sess *session.Session, name string) (*buffer.Buffer, error) {
	sess.Lock()
	defer sess.Unlock()
	if name == "" {
		name = sess.ActiveBufferName
	}
	b, ok := sess.Buffers[name]
	if !ok {
		return nil, svcErr("GetBuffer", fmt.Sprintf("buffer %q", name), protocol.ErrNotFound)
	}
	return b, nil
}
