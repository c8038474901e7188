// Package branch maintains the branch tree: creation, deletion, the current
// branch pointer, and per-branch document membership.
//
// Membership is inherited by copy at branch-creation time. A child receives
// its parent's member set as of that instant and the two sets evolve
// independently afterwards. The tree itself forms a forest: deletion is
// rejected for frozen branches and for branches that still have children.
package branch

import (
	"context"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/vellum-db/vellum/internal/store"
)

// Info is the read-only view of one branch.
type Info struct {
	ID       string
	ParentID string
	Frozen   bool
}

type node struct {
	id       string
	parentID string
	frozen   bool
	children []string
	members  mapset.Set[string]
}

// Manager owns the branch tree and the current-branch pointer. All tree
// mutations write through to the store before the in-memory state changes,
// so a failed write leaves the tree untouched.
type Manager struct {
	mu      sync.Mutex
	st      *store.Store
	nodes   map[string]*node
	order   []string
	current string
}

// NewManager loads the branch tree from the store. The current branch is the
// oldest surviving branch, or empty when the store has none.
func NewManager(ctx context.Context, st *store.Store) (*Manager, error) {
	m := &Manager{
		st:    st,
		nodes: make(map[string]*node),
	}

	records, err := st.ListBranches(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		members, err := st.ListBranchMembers(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		m.nodes[rec.ID] = &node{
			id:       rec.ID,
			parentID: rec.ParentID,
			frozen:   rec.Frozen,
			members:  mapset.NewSet(members...),
		}
		m.order = append(m.order, rec.ID)
	}
	// Child lists follow creation order, which ListBranches preserves.
	for _, id := range m.order {
		n := m.nodes[id]
		if n.parentID == "" {
			continue
		}
		parent, ok := m.nodes[n.parentID]
		if !ok {
			return nil, &UnknownParentError{ID: n.parentID}
		}
		parent.children = append(parent.children, id)
	}
	if len(m.order) > 0 {
		m.current = m.order[0]
	}
	return m, nil
}

// Current returns the current branch id, or "" when no branch exists.
func (m *Manager) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// SetCurrent switches the current branch.
func (m *Manager) SetCurrent(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[id]; !ok {
		return &UnknownBranchError{ID: id}
	}
	m.current = id
	return nil
}

// Add creates a branch and makes it current. When parentID is empty the
// current branch is used; if there is no current branch either, the new
// branch is a root. The new branch's membership is copied from the parent's
// membership at this instant.
func (m *Manager) Add(ctx context.Context, id, parentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.nodes[id]; ok {
		return &DuplicateBranchError{ID: id}
	}
	if parentID == "" {
		parentID = m.current
	}
	var parent *node
	if parentID != "" {
		var ok bool
		parent, ok = m.nodes[parentID]
		if !ok {
			return &UnknownParentError{ID: parentID}
		}
	}

	err := m.st.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.CreateBranch(ctx, id, parentID); err != nil {
			return err
		}
		if parent != nil {
			return tx.CopyBranchMembers(ctx, id, parentID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	n := &node{id: id, parentID: parentID, members: mapset.NewSet[string]()}
	if parent != nil {
		n.members = parent.members.Clone()
		parent.children = append(parent.children, id)
	}
	m.nodes[id] = n
	m.order = append(m.order, id)
	m.current = id
	return nil
}

// Delete removes a branch. An empty id means the current branch. Frozen
// branches and branches with sub-branches cannot be deleted. If the deleted
// branch was current, current falls back to the oldest surviving branch.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == "" {
		id = m.current
	}
	n, ok := m.nodes[id]
	if !ok {
		return &UnknownBranchError{ID: id}
	}
	if n.frozen {
		return &BranchFrozenError{ID: id}
	}
	if len(n.children) > 0 {
		return &BranchHasChildrenError{ID: id}
	}

	if err := m.st.DeleteBranch(ctx, id); err != nil {
		return err
	}

	if n.parentID != "" {
		parent := m.nodes[n.parentID]
		for i, child := range parent.children {
			if child == id {
				parent.children = append(parent.children[:i], parent.children[i+1:]...)
				break
			}
		}
	}
	delete(m.nodes, id)
	for i, b := range m.order {
		if b == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.current == id {
		m.current = ""
		if len(m.order) > 0 {
			m.current = m.order[0]
		}
	}
	return nil
}

// Get returns the branch's metadata.
func (m *Manager) Get(id string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return Info{}, &UnknownBranchError{ID: id}
	}
	return Info{ID: n.id, ParentID: n.parentID, Frozen: n.frozen}, nil
}

// Parent returns the parent branch id, or "" for a root branch.
func (m *Manager) Parent(id string) (string, error) {
	info, err := m.Get(id)
	if err != nil {
		return "", err
	}
	return info.ParentID, nil
}

// SubBranches returns the branch's direct children in creation order.
func (m *Manager) SubBranches(id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return nil, &UnknownBranchError{ID: id}
	}
	out := make([]string, len(n.children))
	copy(out, n.children)
	return out, nil
}

// Freeze marks a branch read-only. There is no unfreeze.
func (m *Manager) Freeze(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return &UnknownBranchError{ID: id}
	}
	if err := m.st.SetBranchFrozen(ctx, id, true); err != nil {
		return err
	}
	n.frozen = true
	return nil
}

// IsEditable reports whether a branch accepts new commits: it must not be
// frozen and must have no sub-branches. An empty id means the current branch.
func (m *Manager) IsEditable(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == "" {
		id = m.current
	}
	n, ok := m.nodes[id]
	if !ok {
		return false, &UnknownBranchError{ID: id}
	}
	return !n.frozen && len(n.children) == 0, nil
}

// AllBranchIDs returns every branch id in creation order.
func (m *Manager) AllBranchIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// MemberIDs returns the branch's document membership, sorted for
// deterministic iteration.
func (m *Manager) MemberIDs(id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return nil, &UnknownBranchError{ID: id}
	}
	ids := n.members.ToSlice()
	sort.Strings(ids)
	return ids, nil
}

// HasMember reports whether docID is a member of the branch.
func (m *Manager) HasMember(id, docID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return false, &UnknownBranchError{ID: id}
	}
	return n.members.Contains(docID), nil
}

// AddMember adds a document id to the branch's membership.
func (m *Manager) AddMember(ctx context.Context, id, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return &UnknownBranchError{ID: id}
	}
	if n.members.Contains(docID) {
		return &DuplicateMemberError{BranchID: id, DocumentID: docID}
	}
	if _, err := m.st.AddBranchMember(ctx, id, docID); err != nil {
		return err
	}
	n.members.Add(docID)
	return nil
}

// RemoveMember removes a document id from the branch's membership. Removing
// an absent id is a no-op.
func (m *Manager) RemoveMember(ctx context.Context, id, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return &UnknownBranchError{ID: id}
	}
	if !n.members.Contains(docID) {
		return nil
	}
	if err := m.st.RemoveBranchMember(ctx, id, docID); err != nil {
		return err
	}
	n.members.Remove(docID)
	return nil
}
