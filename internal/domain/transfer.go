package domain

import (
	"time"
)

// DedupKey identifies a transferred line across retries: the same line
// delivered twice to a receiving trip must only be counted once.
type DedupKey struct {
	SourceTripID    string
	ProductID       string
	Quantity        string // canonical decimal string
	SendingDriverID string
}

// TransferLine is a product line moved from the sender's trip to a receiver's trip on the same day.
type TransferLine struct {
	ProductLine

	SourceTripID        string
	SendingDriverID     string
	SendingDriverName   string
	ReceivingDriverID   string
	ReceivingDriverName string
}

// DedupKey returns the idempotency key of the line.
func (l TransferLine) DedupKey() DedupKey {
	return DedupKey{
		SourceTripID:    l.SourceTripID,
		ProductID:       l.ProductID,
		Quantity:        l.Quantity.String(),
		SendingDriverID: l.SendingDriverID,
	}
}

// Accepted converts the line to its receiver-side shape.
func (l TransferLine) Accepted() AcceptedLine {
	return AcceptedLine{
		ProductLine:       l.ProductLine,
		SourceTripID:      l.SourceTripID,
		SendingDriverID:   l.SendingDriverID,
		SendingDriverName: l.SendingDriverName,
	}
}

// AcceptedLine is a product line a trip received from another driver.
type AcceptedLine struct {
	ProductLine

	SourceTripID      string
	SendingDriverID   string
	SendingDriverName string
}

// DedupKey returns the idempotency key of the line.
func (l AcceptedLine) DedupKey() DedupKey {
	return DedupKey{
		SourceTripID:    l.SourceTripID,
		ProductID:       l.ProductID,
		Quantity:        l.Quantity.String(),
		SendingDriverID: l.SendingDriverID,
	}
}

// PendingTransfer holds lines sent to a driver who has no trip yet for the date.
type PendingTransfer struct {
	Date              time.Time
	ReceivingDriverID string
	Lines             []TransferLine
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// MergeAccepted appends incoming lines whose dedup key is not already present.
// It returns the merged slice and the number of lines actually added.
func MergeAccepted(existing []AcceptedLine, incoming []AcceptedLine) ([]AcceptedLine, int) {
	seen := make(map[DedupKey]struct{}, len(existing))
	for _, l := range existing {
		seen[l.DedupKey()] = struct{}{}
	}
	merged := append([]AcceptedLine(nil), existing...)
	added := 0
	for _, l := range incoming {
		key := l.DedupKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, l)
		added++
	}
	return merged, added
}

// MergeTransfers appends incoming transfer lines whose dedup key is not already present.
func MergeTransfers(existing []TransferLine, incoming []TransferLine) ([]TransferLine, int) {
	seen := make(map[DedupKey]struct{}, len(existing))
	for _, l := range existing {
		seen[l.DedupKey()] = struct{}{}
	}
	merged := append([]TransferLine(nil), existing...)
	added := 0
	for _, l := range incoming {
		key := l.DedupKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, l)
		added++
	}
	return merged, added
}

// RemoveAccepted drops lines whose dedup key is in keys.
func RemoveAccepted(lines []AcceptedLine, keys map[DedupKey]struct{}) ([]AcceptedLine, int) {
	kept := make([]AcceptedLine, 0, len(lines))
	for _, l := range lines {
		if _, ok := keys[l.DedupKey()]; ok {
			continue
		}
		kept = append(kept, l)
	}
	return kept, len(lines) - len(kept)
}

// RemoveTransfers drops lines whose dedup key is in keys.
func RemoveTransfers(lines []TransferLine, keys map[DedupKey]struct{}) ([]TransferLine, int) {
	kept := make([]TransferLine, 0, len(lines))
	for _, l := range lines {
		if _, ok := keys[l.DedupKey()]; ok {
			continue
		}
		kept = append(kept, l)
	}
	return kept, len(lines) - len(kept)
}
