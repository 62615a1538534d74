package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ErrorTestSuite struct {
	suite.Suite
}

func TestErrorSuite(t *testing.T) {
	suite.Run(t, new(ErrorTestSuite))
}

func (suite *ErrorTestSuite) TestConstructors() {
	cause := errors.New("disk full")

	tests := []struct {
		name    string
		err     *Error
		code    ErrorCode
		message string
		cause   error
	}{
		{"new", New(ErrCodeEmptyInstruments, "no instruments"), ErrCodeEmptyInstruments, "no instruments", nil},
		{"newf", Newf(ErrCodeMisalignedGrid, "series %s is off grid", "MSFT"), ErrCodeMisalignedGrid, "series MSFT is off grid", nil},
		{"wrap", Wrap(ErrCodeJournalWriteFailed, "failed to write trades", cause), ErrCodeJournalWriteFailed, "failed to write trades", cause},
		{"wrapf", Wrapf(ErrCodeQueryFailed, cause, "failed to read %s", "AAPL"), ErrCodeQueryFailed, "failed to read AAPL", cause},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			suite.Equal(tc.code, tc.err.Code)
			suite.Equal(tc.message, tc.err.Message)
			suite.Equal(tc.cause, tc.err.Cause)
		})
	}
}

func (suite *ErrorTestSuite) TestErrorString() {
	err := New(ErrCodeInvalidConfiguration, "margin_req must be positive")
	suite.Equal("[101] margin_req must be positive", err.Error())

	wrapped := Wrap(ErrCodeDataNotFound, "no quotes", errors.New("empty file"))
	suite.Equal("[200] no quotes: empty file", wrapped.Error())
}

func (suite *ErrorTestSuite) TestUnwrapAndIs() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeDecisionFailed, "decision failed", cause)
	suite.Equal(cause, err.Unwrap())
	suite.True(Is(err, cause))
	suite.Nil(New(ErrCodeUnknown, "x").Unwrap())
}

func (suite *ErrorTestSuite) TestGetCode() {
	inner := New(ErrCodeModelLoadFailed, "bad model")
	outer := Wrap(ErrCodeDecisionFailed, "decision failed", inner)
	suite.Equal(ErrCodeDecisionFailed, GetCode(outer))
	suite.Equal(ErrCodeModelLoadFailed, GetCode(inner))
	suite.Equal(ErrCodeUnknown, GetCode(errors.New("plain")))

	// fmt wrapping keeps the code reachable
	suite.Equal(ErrCodeMarginRejected, GetCode(fmt.Errorf("apply: %w", New(ErrCodeMarginRejected, "rejected"))))
}

func (suite *ErrorTestSuite) TestHasCode() {
	err := New(ErrCodeMarginRejected, "rejected")
	suite.True(HasCode(err, ErrCodeMarginRejected))
	suite.False(HasCode(err, ErrCodeInsufficientCash))
	suite.True(HasAnyCode(err, ErrCodeInsufficientCash, ErrCodeMarginRejected))
	suite.False(HasAnyCode(err))
}

func (suite *ErrorTestSuite) TestAsError() {
	err := New(ErrCodeInvalidSignal, "probability out of range")
	var target *Error
	suite.True(As(err, &target))
	suite.Equal(ErrCodeInvalidSignal, target.Code)
}

func (suite *ErrorTestSuite) TestCategory() {
	tests := []struct {
		code     ErrorCode
		expected Category
	}{
		{ErrCodeUnknown, CategoryGeneral},
		{ErrCodeMisalignedGrid, CategoryValidation},
		{ErrCodeQueryFailed, CategoryData},
		{ErrCodeIndicatorCalculation, CategoryIndicator},
		{ErrCodeVersionMismatch, CategoryDecision},
		{ErrCodeMarginRejected, CategoryLedger},
		{ErrCodeSimulationCancelled, CategorySimulation},
		{ErrCodeCallbackFailed, CategoryCallback},
	}

	for _, tc := range tests {
		suite.Run(string(tc.expected), func() {
			suite.Equal(tc.expected, tc.code.Category())
		})
	}

	suite.True(IsValidation(New(ErrCodeEmptySeries, "empty")))
	suite.False(IsValidation(New(ErrCodeQueryFailed, "query")))
}

func (suite *ErrorTestSuite) TestInsufficientDataError() {
	err := NewInsufficientDataErrorf(20, 5, "AAPL", "need %d quotes for SMA, got %d", 20, 5)
	suite.Equal(20, err.Required)
	suite.Equal(5, err.Actual)
	suite.Equal("AAPL", err.Symbol)
	suite.Equal("need 20 quotes for SMA, got 5", err.Error())

	suite.True(IsInsufficientDataError(fmt.Errorf("decide: %w", err)))
	suite.False(IsInsufficientDataError(New(ErrCodeInvalidParameter, "x")))
	suite.False(IsInsufficientDataError(nil))
}
