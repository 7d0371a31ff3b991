package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"

	"proctord/internal/violation"
)

// chainKeySize is the derived HMAC key length in bytes.
const chainKeySize = 32

// DeriveChainKey derives the audit-chain HMAC key from the exam bearer
// credential and session ID via HKDF-SHA256. The server holds the same
// credential, so it can re-derive the key and verify exported audit rows
// without any extra key exchange.
func DeriveChainKey(credential, sessionID string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(credential), []byte(sessionID), []byte("proctord/audit-chain/v1"))

	key := make([]byte, chainKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive chain key: %w", err)
	}
	return key, nil
}

// Chain computes a running HMAC over audit rows. Each row's MAC covers the
// previous row's MAC, so deleting or rewriting any row breaks every MAC
// after it.
type Chain struct {
	mu   sync.Mutex
	key  []byte
	prev []byte
}

// NewChain creates a chain with the given HMAC key.
func NewChain(key []byte) *Chain {
	return &Chain{key: key}
}

// Extend appends a violation to the chain and returns its MAC.
func (c *Chain) Extend(sessionID string, v violation.Violation) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	mac := chainMAC(c.key, c.prev, sessionID, v.ID, v.Sequence,
		string(v.Kind), string(v.Severity), string(v.Confidence),
		v.Timestamp.UnixNano(), v.Details)
	c.prev = mac
	return mac
}

// VerifyChain replays stored rows and checks every MAC. Rows must be in
// sequence order, as returned by Store.Violations.
func VerifyChain(key []byte, rows []StoredViolation) error {
	var prev []byte
	for i, sv := range rows {
		want := chainMAC(key, prev, sv.SessionID, sv.ID, sv.Sequence,
			sv.Kind, sv.Severity, sv.Confidence, sv.TimestampNs, sv.Details)
		if !hmac.Equal(want, sv.ChainMAC) {
			return fmt.Errorf("audit chain broken at row %d (sequence %d)", i, sv.Sequence)
		}
		prev = sv.ChainMAC
	}
	return nil
}

// chainMAC computes one row MAC. The details map is encoded with
// json.Marshal, which sorts keys, so the encoding is deterministic.
func chainMAC(key, prev []byte, sessionID, id string, sequence int,
	kind, severity, confidence string, timestampNs int64, details map[string]string) []byte {

	h := hmac.New(sha256.New, key)
	h.Write(prev)
	h.Write([]byte(sessionID))
	h.Write([]byte(id))

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], uint64(sequence))
	h.Write(seq[:])

	h.Write([]byte(kind))
	h.Write([]byte(severity))
	h.Write([]byte(confidence))

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestampNs))
	h.Write(ts[:])

	if len(details) > 0 {
		enc, _ := json.Marshal(details)
		h.Write(enc)
	}

	return h.Sum(nil)
}
