// Package activations is the local activation ledger consulted by the
// billing UI: two composite-keyed sets recording which fee or service
// lines are enabled for a student. Key presence is the sole source of
// truth; absence means disabled.
package activations

import (
	"encoding/json"
	"sort"
	"strings"
)

const keyDelimiter = "|"

// Blob names match the original browser-storage keys. They are
// origin-wide: every signed-in owner shares the same ledger unless a
// key prefix namespaces it per owner.
const (
	feeActivationsBlob     = "studentsFeeActivations"
	serviceActivationsBlob = "studentsServiceActivations"
)

// FeeKey joins a (student, fee) pair into one activation key.
func FeeKey(studentID, feeID string) string {
	return studentID + keyDelimiter + feeID
}

// ServiceKey joins a (student, service, month) triple into one
// activation key. Month is the period token, e.g. "2024-01".
func ServiceKey(studentID, serviceID, month string) string {
	return studentID + keyDelimiter + serviceID + keyDelimiter + month
}

type LedgerOptions struct {
	Store BlobStore
	// KeyPrefix namespaces the stored blobs, e.g. per signed-in owner.
	// Empty keeps the original origin-wide blob names.
	KeyPrefix string
}

// Ledger reads and writes the activation sets through an injected
// BlobStore. Every read deserializes the full set from storage and every
// write serializes it back; storage failures and corrupt payloads are
// absorbed as an empty set, never surfaced.
type Ledger struct {
	store  BlobStore
	prefix string
}

func NewLedger(opts LedgerOptions) (*Ledger, error) {
	if opts.Store == nil {
		return nil, ErrInvalidInput
	}
	return &Ledger{store: opts.Store, prefix: strings.TrimSpace(opts.KeyPrefix)}, nil
}

// ActiveFeeKeys returns the stored fee activation keys, sorted.
func (l *Ledger) ActiveFeeKeys() []string {
	return setToKeys(l.readSet(feeActivationsBlob))
}

func (l *Ledger) IsFeeActive(studentID, feeID string) bool {
	_, ok := l.readSet(feeActivationsBlob)[FeeKey(studentID, feeID)]
	return ok
}

// SetFeeActive inserts or removes one fee activation key and persists
// the whole set. It returns the resulting active value.
func (l *Ledger) SetFeeActive(studentID, feeID string, active bool) bool {
	set := l.readSet(feeActivationsBlob)
	toggle(set, FeeKey(studentID, feeID), active)
	l.writeSet(feeActivationsBlob, set)
	return active
}

// BulkSetFeeActive applies the toggle for every student id in one pass
// and performs a single persistence write.
func (l *Ledger) BulkSetFeeActive(studentIDs []string, feeID string, active bool) {
	set := l.readSet(feeActivationsBlob)
	for _, studentID := range studentIDs {
		toggle(set, FeeKey(studentID, feeID), active)
	}
	l.writeSet(feeActivationsBlob, set)
}

// ActiveServiceKeys returns the stored service activation keys, sorted.
func (l *Ledger) ActiveServiceKeys() []string {
	return setToKeys(l.readSet(serviceActivationsBlob))
}

// IsServiceActive reports whether the service line applies to the
// student for the given month. An empty month is always inactive,
// regardless of ledger contents.
func (l *Ledger) IsServiceActive(studentID, serviceID, month string) bool {
	if month == "" {
		return false
	}
	_, ok := l.readSet(serviceActivationsBlob)[ServiceKey(studentID, serviceID, month)]
	return ok
}

func (l *Ledger) SetServiceActive(studentID, serviceID, month string, active bool) bool {
	set := l.readSet(serviceActivationsBlob)
	toggle(set, ServiceKey(studentID, serviceID, month), active)
	l.writeSet(serviceActivationsBlob, set)
	return active
}

func (l *Ledger) BulkSetServiceActive(studentIDs []string, serviceID, month string, active bool) {
	set := l.readSet(serviceActivationsBlob)
	for _, studentID := range studentIDs {
		toggle(set, ServiceKey(studentID, serviceID, month), active)
	}
	l.writeSet(serviceActivationsBlob, set)
}

func toggle(set map[string]struct{}, key string, active bool) {
	if active {
		set[key] = struct{}{}
	} else {
		delete(set, key)
	}
}

func (l *Ledger) blobName(name string) string {
	return l.prefix + name
}

func (l *Ledger) readSet(name string) map[string]struct{} {
	set := make(map[string]struct{})
	data, err := l.store.Get(l.blobName(name))
	if err != nil || len(data) == 0 {
		return set
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		// Corrupt storage degrades to an empty set.
		return set
	}
	for _, key := range keys {
		set[key] = struct{}{}
	}
	return set
}

func (l *Ledger) writeSet(name string, set map[string]struct{}) {
	data, err := json.Marshal(setToKeys(set))
	if err != nil {
		return
	}
	_ = l.store.Set(l.blobName(name), data)
}

func setToKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
