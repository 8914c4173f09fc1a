// Package storage provides the relay's small persistence layer.
//
// It holds:
//   - Properties (the data-source identifier and other operator-set keys)
//   - The trigger registry with per-trigger poll cursors
//   - An append-only audit log of delivery attempts
package storage
