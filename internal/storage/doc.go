package storage

// Package storage persists the pipeline state that must survive restarts:
//
//   - DND schedules (recurring windows per user)
//   - Pending queue items (deferred deliveries)
//
// Values are stored as opaque JSON payloads; the owning services handle
// (de)serialization so the storage layer stays schema-stable.
