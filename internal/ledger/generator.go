package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// idNamespace seeds name-based UUIDs so replaying the event log yields the
// same journal and batch IDs.
var idNamespace = uuid.MustParse("6f1c2a4e-8d3b-5b7a-9e0f-2c4d6e8f0a1b")

// JournalGenerator creates balanced journal batches from staged transfers
type JournalGenerator struct {
	sequence int64
}

func NewJournalGenerator(startSequence int64) *JournalGenerator {
	return &JournalGenerator{sequence: startSequence}
}

// SetSequence aligns the generator with the core after snapshot restore.
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

// GenerateFromTx turns the transfers staged in tx into a batch for the given
// core sequence. An empty tx yields an empty batch: state-only events still
// get an envelope in the event log.
func (jg *JournalGenerator) GenerateFromTx(tx *Tx, eventRef string, sequence, timestamp int64) *Batch {
	jg.sequence = sequence
	batchID := BatchID(sequence)

	entries := tx.Entries()
	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, len(entries)),
	}

	for i, j := range entries {
		j.JournalID = JournalID(sequence, i)
		j.BatchID = batchID
		j.EventRef = eventRef
		j.Sequence = sequence
		j.Timestamp = timestamp
		batch.Journals = append(batch.Journals, j)
	}

	jg.sequence++
	return batch
}

// BatchID derives the batch ID for a core sequence.
func BatchID(sequence int64) uuid.UUID {
	return uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("batch:%d", sequence)))
}

// JournalID derives the ID of the i-th journal of a batch.
func JournalID(sequence int64, i int) uuid.UUID {
	return uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("journal:%d:%d", sequence, i)))
}
