// Package state makes the control core crash safe.
//
// # Module
//
// Checkpointer captures risk state and open orders, frames them (magic,
// version, length, CRC32-C) and hands them to a Store under a strictly
// increasing sequence. Recover walks stored checkpoints from the newest down
// until one passes integrity checks.
//
// # Stores
//
// FileStore writes one file per checkpoint with temp file, fsync and rename.
// PGStore keeps checkpoints and archived orders in PostgreSQL through gorm.
package state
