package version

import (
	"github.com/vellum-db/vellum/internal/doc"
)

// workingSnapshot is the mutable staging area for one open transaction on a
// branch. Document order is insertion order: ids seeded from the base
// snapshot first, newly staged ids appended after.
type workingSnapshot struct {
	id             string
	baseSnapshotID string
	order          []string
	idToHash       map[string]string
	pending        map[string]*doc.Document
	hash           string
	dirty          bool
}

func newWorkingSnapshot(id, baseSnapshotID string, seed []doc.SnapshotEntry) *workingSnapshot {
	ws := &workingSnapshot{
		id:             id,
		baseSnapshotID: baseSnapshotID,
		idToHash:       make(map[string]string, len(seed)),
		pending:        make(map[string]*doc.Document),
	}
	for _, e := range seed {
		ws.order = append(ws.order, e.DocumentID)
		ws.idToHash[e.DocumentID] = e.DocumentHash
	}
	return ws
}

// stage records id -> hash, keeping insertion order for new ids.
func (ws *workingSnapshot) stage(docID, hash string) {
	if _, ok := ws.idToHash[docID]; !ok {
		ws.order = append(ws.order, docID)
	}
	ws.idToHash[docID] = hash
	ws.dirty = true
}

// unstage removes the id currently mapped to hash, if any. Content hashes
// exclude the id, so distinct documents can share a hash; removal by hash is
// only safe when the caller does not care which of them goes.
func (ws *workingSnapshot) unstage(hash string) {
	for _, id := range ws.order {
		if ws.idToHash[id] == hash {
			ws.unstageID(id)
			return
		}
	}
}

// unstageID removes the given document id from the snapshot. The pending
// payload for its hash stays while another staged id still references it.
func (ws *workingSnapshot) unstageID(docID string) {
	hash, ok := ws.idToHash[docID]
	if !ok {
		return
	}
	for i, id := range ws.order {
		if id == docID {
			ws.order = append(ws.order[:i], ws.order[i+1:]...)
			break
		}
	}
	delete(ws.idToHash, docID)
	for _, h := range ws.idToHash {
		if h == hash {
			ws.dirty = true
			return
		}
	}
	delete(ws.pending, hash)
	ws.dirty = true
}

// entries returns the id/hash pairs in snapshot order.
func (ws *workingSnapshot) entries() []doc.SnapshotEntry {
	out := make([]doc.SnapshotEntry, 0, len(ws.order))
	for _, id := range ws.order {
		out = append(out, doc.SnapshotEntry{DocumentID: id, DocumentHash: ws.idToHash[id]})
	}
	return out
}

// sign fixes the snapshot's content hash. Signing twice is an integrity
// violation: the hash, once set, is final.
func (ws *workingSnapshot) sign(hash string) error {
	if ws.hash != "" {
		return &SnapshotIntegrityError{SnapshotID: ws.id}
	}
	ws.hash = hash
	return nil
}
