// Package ledger maintains the persistent abuse ledger: per-IP and
// per-device histories, the append-only suspicion log, and the terminal
// blocklist. All access goes through a single-writer Store so concurrent
// trial activations never lose updates.
package ledger

import (
	"time"

	"trialguard/internal/fingerprint"
)

// SchemaVersion is the on-disk document version
const SchemaVersion = 1

// Suspicion event types appended by the guard and the trial registry
const (
	SuspicionMultipleAccountsSameIP     = "multiple_accounts_same_ip"
	SuspicionMultipleAccountsSameDevice = "multiple_accounts_same_device"
	SuspicionRiskIndicators             = "risk_indicators"
	SuspicionExcessiveTrialsFromIP      = "excessive_trials_from_ip"
	SuspicionExcessiveTrialsFromDevice  = "excessive_trials_from_device"
)

// IPRecord tracks the accounts and trials seen from one IP address
type IPRecord struct {
	FirstSeen           time.Time  `json:"first_seen"`
	LastSeen            time.Time  `json:"last_seen"`
	Accounts            []string   `json:"accounts"`
	TrialCount          int        `json:"trial_count"`
	LastTrialActivation *time.Time `json:"last_trial_activation,omitempty"`
}

// DeviceRecord tracks the accounts and trials seen from one device hash
type DeviceRecord struct {
	FirstSeen           time.Time               `json:"first_seen"`
	LastSeen            time.Time               `json:"last_seen"`
	Accounts            []string                `json:"accounts"`
	TrialCount          int                     `json:"trial_count"`
	FingerprintSnapshot *fingerprint.Descriptor `json:"fingerprint_snapshot,omitempty"`
}

// SuspicionEvent is an advisory record for admin review, never surfaced to
// end users
type SuspicionEvent struct {
	Type      string    `json:"type"`
	Subject   string    `json:"subject"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// BlockEntry is a terminal blocklist record. Any future request matching
// one of its keys is rejected unconditionally; removal is an out-of-band
// admin action.
type BlockEntry struct {
	IP         string    `json:"ip,omitempty"`
	IPRange    string    `json:"ip_range,omitempty"`
	DeviceHash string    `json:"device_hash,omitempty"`
	Email      string    `json:"email,omitempty"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}

// Ledger is the complete abuse ledger document
type Ledger struct {
	Version          int                      `json:"version"`
	IPEntries        map[string]*IPRecord     `json:"ip_entries"`
	DeviceEntries    map[string]*DeviceRecord `json:"device_entries"`
	SuspiciousEvents []SuspicionEvent         `json:"suspicious_events"`
	Blocklist        []BlockEntry             `json:"blocklist"`
}

// NewLedger creates an empty ledger at the current schema version
func NewLedger() *Ledger {
	return &Ledger{
		Version:       SchemaVersion,
		IPEntries:     make(map[string]*IPRecord),
		DeviceEntries: make(map[string]*DeviceRecord),
	}
}

// normalize repairs nil maps after loading older or hand-edited documents
func (l *Ledger) normalize() {
	if l.Version == 0 {
		l.Version = SchemaVersion
	}
	if l.IPEntries == nil {
		l.IPEntries = make(map[string]*IPRecord)
	}
	if l.DeviceEntries == nil {
		l.DeviceEntries = make(map[string]*DeviceRecord)
	}
}

// LookupBlock returns the first blocklist entry matching any of the given
// keys, or nil. Empty arguments never match.
func (l *Ledger) LookupBlock(ip, ipRange, deviceHash, email string) *BlockEntry {
	for i := range l.Blocklist {
		entry := &l.Blocklist[i]
		if ip != "" && entry.IP == ip {
			return entry
		}
		if ipRange != "" && entry.IPRange == ipRange {
			return entry
		}
		if deviceHash != "" && entry.DeviceHash == deviceHash {
			return entry
		}
		if email != "" && entry.Email == email {
			return entry
		}
	}
	return nil
}

// TouchIP fetches or creates the record for ip, registers email in its
// account set and updates last-seen. Returns the record.
func (l *Ledger) TouchIP(ip, email string, now time.Time) *IPRecord {
	rec, ok := l.IPEntries[ip]
	if !ok {
		rec = &IPRecord{FirstSeen: now}
		l.IPEntries[ip] = rec
	}
	if !containsString(rec.Accounts, email) {
		rec.Accounts = append(rec.Accounts, email)
	}
	rec.LastSeen = now
	return rec
}

// TouchDevice mirrors TouchIP for a device hash, keeping the most recent
// raw fingerprint as a snapshot
func (l *Ledger) TouchDevice(hash, email string, fp *fingerprint.Descriptor, now time.Time) *DeviceRecord {
	rec, ok := l.DeviceEntries[hash]
	if !ok {
		rec = &DeviceRecord{FirstSeen: now}
		l.DeviceEntries[hash] = rec
	}
	if !containsString(rec.Accounts, email) {
		rec.Accounts = append(rec.Accounts, email)
	}
	rec.LastSeen = now
	if fp != nil {
		rec.FingerprintSnapshot = fp
	}
	return rec
}

// AppendSuspicion appends an advisory event to the ordered log
func (l *Ledger) AppendSuspicion(eventType, subject, detail string, now time.Time) {
	l.SuspiciousEvents = append(l.SuspiciousEvents, SuspicionEvent{
		Type:      eventType,
		Subject:   subject,
		Detail:    detail,
		Timestamp: now,
	})
}

// AppendBlock appends a terminal blocklist entry
func (l *Ledger) AppendBlock(entry BlockEntry, now time.Time) {
	entry.Timestamp = now
	l.Blocklist = append(l.Blocklist, entry)
}

// IncrementTrialCount bumps the trial counters for the given IP and device
// hash, creating records as needed, and returns the new counts. A zero
// device count is returned when deviceHash is empty.
func (l *Ledger) IncrementTrialCount(ip, deviceHash string, now time.Time) (ipCount, deviceCount int) {
	if ip != "" {
		rec, ok := l.IPEntries[ip]
		if !ok {
			rec = &IPRecord{FirstSeen: now}
			l.IPEntries[ip] = rec
		}
		rec.TrialCount++
		rec.LastSeen = now
		activation := now
		rec.LastTrialActivation = &activation
		ipCount = rec.TrialCount
	}
	if deviceHash != "" {
		rec, ok := l.DeviceEntries[deviceHash]
		if !ok {
			rec = &DeviceRecord{FirstSeen: now}
			l.DeviceEntries[deviceHash] = rec
		}
		rec.TrialCount++
		rec.LastSeen = now
		deviceCount = rec.TrialCount
	}
	return ipCount, deviceCount
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
