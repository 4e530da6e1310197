package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidAmount        ErrorCode = 100
	ErrCodeInvalidQuantity      ErrorCode = 101
	ErrCodeInvalidConfiguration ErrorCode = 102
	ErrCodeInvalidDate          ErrorCode = 103
	ErrCodeMissingParameter     ErrorCode = 104

	// Ledger errors (200-299)
	ErrCodeInsufficientFunds    ErrorCode = 200
	ErrCodeInsufficientHoldings ErrorCode = 201
	ErrCodeUnknownSymbol        ErrorCode = 202

	// Store errors (300-399)
	ErrCodeStoreFailure   ErrorCode = 300
	ErrCodeQueryFailed    ErrorCode = 301
	ErrCodeEncodingFailed ErrorCode = 302

	// Market data errors (400-499)
	ErrCodePriceLookupFailed   ErrorCode = 400
	ErrCodeSnapshotFetchFailed ErrorCode = 401
	ErrCodeMarketStatusFailed  ErrorCode = 402

	// Pipeline errors (500-599)
	ErrCodePipelineFailed ErrorCode = 500
	ErrCodeResearchFailed ErrorCode = 501
	ErrCodeAdviceFailed   ErrorCode = 502

	// Orchestrator errors (600-699)
	ErrCodeBacktestWindowInvalid ErrorCode = 600
	ErrCodeNoEntities            ErrorCode = 601
)
