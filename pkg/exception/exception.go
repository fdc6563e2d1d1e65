package exception

import "github.com/yanun0323/errors"

// Error taxonomy shared by every component.
var (
	ErrConfig            = errors.New("config: invalid configuration")
	ErrTransientExchange = errors.New("exchange: transient error")
	ErrPermanentExchange = errors.New("exchange: permanent error")
	ErrRiskViolation     = errors.New("risk: violation")
	ErrStaleData         = errors.New("liquidity: stale data")
	ErrPersistence       = errors.New("persistence: write failed")
	ErrPersistenceFatal  = errors.New("persistence: repeated failures, crash safety lost")
)

// General errors
var (
	ErrNilInstance     = errors.New("nil instance")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUnknownAsset    = errors.New("unknown asset")
)

// Policy errors
var (
	ErrOracleTimeout   = errors.New("policy: oracle timeout")
	ErrInvalidDecision = errors.New("policy: invalid decision")
)

// Order errors
var (
	ErrDuplicateOrder    = errors.New("order: already exists")
	ErrUnknownOrder      = errors.New("order: not found")
	ErrInvalidTransition = errors.New("order: invalid state transition")
	ErrRetriesExhausted  = errors.New("order: retries exhausted")
	ErrOrderRejected     = errors.New("order: rejected by exchange")
	ErrCoordinatorClosed = errors.New("order: coordinator not accepting orders")
)

// Checkpoint errors
var (
	ErrChecksumMismatch = errors.New("checkpoint: checksum mismatch")
	ErrInvalidMagic     = errors.New("checkpoint: invalid magic")
	ErrUnsupportedVer   = errors.New("checkpoint: unsupported version")
	ErrSeqMismatch      = errors.New("checkpoint: sequence mismatch")
	ErrTruncated        = errors.New("checkpoint: truncated payload")
	ErrNoCheckpoint     = errors.New("checkpoint: none stored")
)
