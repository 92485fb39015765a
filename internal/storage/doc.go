package storage

// Package storage provides the persistence layer under the delivery queue
// and the receipt ledger.
//
// It currently supports:
//   - Receipt appends (entry lifecycle audit trail)
//   - Notification entry records (crash-safe queue state)
