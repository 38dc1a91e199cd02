package errors

// ErrorCode identifies a category of failure. Codes are stable across
// releases so persisted ledgers and logs can be interpreted later.
type ErrorCode int

const (
	// ErrCodeUnknown is returned when no more specific code applies.
	ErrCodeUnknown ErrorCode = 1
)

// Validation errors (100-199).
const (
	ErrCodeInvalidParameter ErrorCode = 100 + iota
	ErrCodeInvalidConfig
	ErrCodeInvalidOrder
	ErrCodeInvalidBar
)

// Data errors (200-299).
const (
	// ErrCodeDataUnavailable indicates no provider could answer a series request.
	ErrCodeDataUnavailable ErrorCode = 200 + iota
	// ErrCodeDataInconsistent indicates a provider returned out-of-order or
	// duplicate-timestamp bars. Fatal for the affected symbol, never retried.
	ErrCodeDataInconsistent
	ErrCodeDataNotFound
	ErrCodeQueryFailed
)

// Adjustment errors (300-399).
const (
	// ErrCodeInvalidCorporateActionOrder indicates an action list that is not
	// sorted ascending by ex-date.
	ErrCodeInvalidCorporateActionOrder ErrorCode = 300 + iota
	ErrCodeInvalidCorporateAction
)

// Trading errors (400-499).
const (
	// ErrCodeOrderRejected indicates the venue or simulator refused an order.
	// The order carries a RejectReason with the sub-reason.
	ErrCodeOrderRejected ErrorCode = 400 + iota
	// ErrCodeInsufficientLiquidity indicates an order larger than the
	// configured fraction of bar volume in simulation.
	ErrCodeInsufficientLiquidity
	ErrCodeInvalidOrderTransition
	ErrCodeOrderNotFound
	ErrCodeDuplicateFill
)

// Broker errors (500-599).
const (
	// ErrCodeConnectionLost indicates a recoverable venue connection failure.
	ErrCodeConnectionLost ErrorCode = 500 + iota
	ErrCodeAuthenticationFailed
	ErrCodeCapabilityDisabled
	ErrCodeProtocolVersionMismatch
	ErrCodeBrokerNotConnected
)

// Engine errors (600-699).
const (
	ErrCodeEngineInitFailed ErrorCode = 600 + iota
	// ErrCodeStrategyFault indicates a user strategy callback returned an
	// error or panicked. Caught at the tick boundary, never fatal to the process.
	ErrCodeStrategyFault
	ErrCodeLedgerFailed
)
