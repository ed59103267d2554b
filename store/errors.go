package store

import "github.com/pkg/errors"

// ErrNotFound is returned when a lookup targets a record that does not
// exist in the requested family.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is returned by an insert when a record already exists
// for the given key, mirroring gjkr.messageStorage's "message exists for
// sender" duplicate rejection.
var ErrAlreadyExists = errors.New("record already exists")

// ErrAlreadySet is returned when a set-once column (PublicKey,
// VerificationShare, SigningShare, ...) is written a second time.
var ErrAlreadySet = errors.New("column already set")

// ErrNonceBurned is returned when a nonce pair already consumed is
// revealed again.
var ErrNonceBurned = errors.New("nonce already burned")
