package storage

// Package storage persists the reminder index used by reconcile passes.
//
// It currently supports:
//   - Reminder index entries (identity, slot, fire time, delivery status)
//   - Audit log appends (acknowledge / snooze / reconcile actions)
//
// Every index entry is written together with an FNV-1a checksum over its
// canonical encoding. Entries that fail verification on load are dropped;
// the next reconcile pass recreates them.
