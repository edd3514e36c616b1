package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "RTokenLedger:genesis:v1"

// GenesisHash is the chain tip before sequence 0.
var GenesisHash = sha256.Sum256([]byte(GenesisHashSeed))

// ChainHash links one applied event onto the chain:
//
//	hash[n] = SHA-256(hash[n-1] || uint64le(n) || digest[n])
func ChainHash(prev [32]byte, sequence int64, digest []byte) [32]byte {
	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], uint64(sequence))

	h := sha256.New()
	h.Write(prev[:])
	h.Write(seq[:])
	h.Write(digest)

	var out [32]byte
	h.Sum(out[:0])
	return out
}

// StateHasher tracks the tip of the state hash chain.
type StateHasher struct {
	tip [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{tip: GenesisHash}
}

// Advance appends sequence to the chain and returns the new tip.
func (h *StateHasher) Advance(sequence int64, digest []byte) [32]byte {
	h.tip = ChainHash(h.tip, sequence, digest)
	return h.tip
}

func (h *StateHasher) Tip() [32]byte { return h.tip }

// Reset moves the tip, after a snapshot restore.
func (h *StateHasher) Reset(tip [32]byte) { h.tip = tip }
