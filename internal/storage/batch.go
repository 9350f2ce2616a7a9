package storage

import (
	"time"

	"vainalista-api/internal/models"
)

type batchOpKind int

const (
	opDeleteList batchOpKind = iota
	opSetListActive
	opPutInvitation
	opDropInvitation
)

type batchOp struct {
	kind    batchOpKind
	listID  string
	uid     string
	active  bool
	at      time.Time
	summary models.InvitationSummary
}

// Batch is a set of blind writes committed atomically across documents
type Batch struct {
	ops []batchOp
}

// NewBatch creates an empty batch
func NewBatch() *Batch {
	return &Batch{}
}

// DeleteList removes the list document
func (b *Batch) DeleteList(id string) *Batch {
	b.ops = append(b.ops, batchOp{kind: opDeleteList, listID: id})
	return b
}

// SetListActive flips the archive flag and refreshes dataAtualizacao
func (b *Batch) SetListActive(id string, active bool, at time.Time) *Batch {
	b.ops = append(b.ops, batchOp{kind: opSetListActive, listID: id, active: active, at: at})
	return b
}

// PutInvitation merges summary into uid's invitation index, creating it if needed
func (b *Batch) PutInvitation(uid string, summary models.InvitationSummary) *Batch {
	b.ops = append(b.ops, batchOp{kind: opPutInvitation, uid: uid, listID: summary.ListaID, summary: summary})
	return b
}

// DropInvitation removes the entry for listID from uid's invitation index
func (b *Batch) DropInvitation(uid, listID string) *Batch {
	b.ops = append(b.ops, batchOp{kind: opDropInvitation, uid: uid, listID: listID})
	return b
}

// Len returns the number of queued writes
func (b *Batch) Len() int {
	return len(b.ops)
}
