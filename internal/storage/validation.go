package storage

import (
	"fmt"
	"time"
)

// validateAndPrepareSighting validates required fields and sets default timestamps.
func validateAndPrepareSighting(s *ProfileSighting) error {
	if s.LoyaltyID == "" {
		return fmt.Errorf("profile sighting requires loyalty_id")
	}
	if s.CIDCandidate == "" {
		return fmt.Errorf("profile sighting requires cid_candidate")
	}
	if s.SeenAt.IsZero() {
		s.SeenAt = time.Now()
	}
	if s.CIDFallback == "" {
		s.CIDFallback = s.CIDCandidate
	}
	return nil
}

// validateAndPrepareValidationEntry sets default timestamps.
// LoyaltyID may legitimately be empty: missing-LID attempts are logged too.
func validateAndPrepareValidationEntry(entry *ValidationLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	return nil
}

// validateAndPrepareAVTRecord validates required fields and sets defaults.
func validateAndPrepareAVTRecord(record *AVTRecord) error {
	if record.TransactionID == "" {
		return fmt.Errorf("avt record requires transaction_id")
	}
	if record.StoreID == "" {
		return fmt.Errorf("avt record requires store_id")
	}
	if record.AVTMethod == "" {
		record.AVTMethod = AVTMethodInPerson
	}
	if record.AVTTimestamp.IsZero() {
		record.AVTTimestamp = time.Now()
	}
	record.AVTPerformed = true
	return nil
}

// validateAndPrepareTransaction validates required fields, sets default
// timestamps, and stamps the transaction ID onto every line.
func validateAndPrepareTransaction(txn *TransactionRecord, lines []TransactionLine) error {
	if txn.TransactionID == "" {
		return fmt.Errorf("transaction requires transaction_id")
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now()
	}
	for i := range lines {
		lines[i].TransactionID = txn.TransactionID
		if lines[i].LineNumber <= 0 {
			return fmt.Errorf("line %d: line_number must be positive", i)
		}
	}
	return nil
}
