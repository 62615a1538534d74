package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

// Category groups error codes by the layer that raises them.
type Category string

const (
	CategoryGeneral    Category = "general"
	CategoryValidation Category = "validation"
	CategoryData       Category = "data"
	CategoryIndicator  Category = "indicator"
	CategoryDecision   Category = "decision"
	CategoryLedger     Category = "ledger"
	CategorySimulation Category = "simulation"
	CategoryCallback   Category = "callback"
)

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeEmptyInstruments     ErrorCode = 102
	ErrCodeEmptySeries          ErrorCode = 103
	ErrCodeMisalignedGrid       ErrorCode = 104
	ErrCodeUnorderedSeries      ErrorCode = 105
	ErrCodeDuplicateInstrument  ErrorCode = 106
	ErrCodeInvalidQuote         ErrorCode = 107
	ErrCodeInvalidSignal        ErrorCode = 108
	ErrCodeInsufficientData     ErrorCode = 109
	ErrCodeInvalidPeriod        ErrorCode = 110
	ErrCodeMissingParameter     ErrorCode = 111
	ErrCodeInvalidVersion       ErrorCode = 112

	// Data errors (200-299)
	ErrCodeDataNotFound          ErrorCode = 200
	ErrCodeDataSourceUnavailable ErrorCode = 201
	ErrCodeQueryFailed           ErrorCode = 202
	ErrCodeNoDataFound           ErrorCode = 203
	ErrCodeJournalWriteFailed    ErrorCode = 204

	// Indicator errors (300-399)
	ErrCodeIndicatorCalculation ErrorCode = 300

	// Decision errors (400-499)
	ErrCodeDecisionFailed       ErrorCode = 400
	ErrCodeModelLoadFailed      ErrorCode = 401
	ErrCodeModelInferenceFailed ErrorCode = 402
	ErrCodeVersionMismatch      ErrorCode = 403
	ErrCodeUnsupportedStrategy  ErrorCode = 404

	// Ledger errors (500-599)
	ErrCodeMarginRejected     ErrorCode = 500
	ErrCodeInsufficientCash   ErrorCode = 501
	ErrCodePositionNotFound   ErrorCode = 502
	ErrCodeInvalidTradeAmount ErrorCode = 503

	// Simulation errors (600-699)
	ErrCodeSimulationCancelled ErrorCode = 600
	ErrCodeSimulationStarted   ErrorCode = 601
	ErrCodeSimulationNotReady  ErrorCode = 602
	ErrCodeNoDecisionSource    ErrorCode = 603
	ErrCodeNoDataPaths         ErrorCode = 604
	ErrCodeNoResultsDir        ErrorCode = 605
	ErrCodeResultsWriteFailed  ErrorCode = 606

	// Callback errors (800-899)
	ErrCodeCallbackFailed ErrorCode = 800
)

// Category returns the layer a code belongs to.
func (c ErrorCode) Category() Category {
	switch {
	case c >= 100 && c < 200:
		return CategoryValidation
	case c >= 200 && c < 300:
		return CategoryData
	case c >= 300 && c < 400:
		return CategoryIndicator
	case c >= 400 && c < 500:
		return CategoryDecision
	case c >= 500 && c < 600:
		return CategoryLedger
	case c >= 600 && c < 700:
		return CategorySimulation
	case c >= 800 && c < 900:
		return CategoryCallback
	default:
		return CategoryGeneral
	}
}
