package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ErrorTestSuite struct {
	suite.Suite
}

func TestErrorSuite(t *testing.T) {
	suite.Run(t, new(ErrorTestSuite))
}

func (suite *ErrorTestSuite) TestNewError() {
	err := New(ErrCodeMissingField, "name is required")
	suite.NotNil(err)
	suite.Equal(ErrCodeMissingField, err.Code)
	suite.Equal("name is required", err.Message)
	suite.Nil(err.Cause)
}

func (suite *ErrorTestSuite) TestNewfError() {
	err := Newf(ErrCodeInvalidParameter, "invalid parameter: %s", "side")
	suite.Equal(ErrCodeInvalidParameter, err.Code)
	suite.Equal("invalid parameter: side", err.Message)
}

func (suite *ErrorTestSuite) TestWrapfError() {
	cause := errors.New("connection refused")
	err := Wrapf(ErrCodeRequestFailed, cause, "%s %s failed", "GET", "account")
	suite.Equal(ErrCodeRequestFailed, err.Code)
	suite.Equal("GET account failed", err.Message)
	suite.Equal(cause, err.Cause)
}

func (suite *ErrorTestSuite) TestErrorString() {
	err := New(ErrCodeInvalidConfiguration, "invalid configuration")
	suite.Equal("[100] invalid configuration", err.Error())
}

func (suite *ErrorTestSuite) TestErrorStringWithCause() {
	cause := errors.New("connection refused")
	err := Wrap(ErrCodeRequestFailed, "request failed", cause)
	suite.Equal("[200] request failed: connection refused", err.Error())
}

func (suite *ErrorTestSuite) TestUnwrap() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeDecodeFailed, "decode failed", cause)
	suite.Equal(cause, err.Unwrap())
	suite.Nil(New(ErrCodeMissingField, "missing").Unwrap())
}

func (suite *ErrorTestSuite) TestGetCodeFromWrapped() {
	cause := New(ErrCodeRequestFailed, "request failed")
	err := Wrap(ErrCodeDialFailed, "dial failed", cause)
	// GetCode should return the outermost error's code
	suite.Equal(ErrCodeDialFailed, GetCode(err))
}

func (suite *ErrorTestSuite) TestGetCodeFromPlainError() {
	suite.Equal(ErrCodeUnknown, GetCode(errors.New("standard error")))
}

func (suite *ErrorTestSuite) TestHasCode() {
	err := New(ErrCodeMissingCredential, "key is required")
	suite.True(HasCode(err, ErrCodeMissingCredential))
	suite.False(HasCode(err, ErrCodeMissingField))
}

func (suite *ErrorTestSuite) TestAsError() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	var target *Error
	suite.True(As(err, &target))
	suite.Equal(ErrCodeInvalidParameter, target.Code)
}

func (suite *ErrorTestSuite) TestCategories() {
	tests := []struct {
		code     ErrorCode
		category Category
	}{
		{ErrCodeUnknown, CategoryUnknown},
		{ErrCodeMissingCredential, CategoryConfiguration},
		{ErrCodeMissingField, CategoryConfiguration},
		{ErrCodeRequestFailed, CategoryTransport},
		{ErrCodeStreamWriteFailed, CategoryTransport},
		{ErrCodeBrokerRejected, CategoryBroker},
		{ErrCodeHTTPStatus, CategoryBroker},
		{ErrCodeDecodeFailed, CategoryEncoding},
		{ErrCodeUnexpectedFormat, CategoryEncoding},
		{ErrCodeEncodeFailed, CategoryEncoding},
		{ErrCodeDialFailed, CategoryTransport},
		{ErrCodeAuthenticationRejected, CategoryProtocol},
		{ErrCodeStreamClosed, CategoryProtocol},
		{ErrCodeAuthenticationTimeout, CategoryProtocol},
	}

	for _, tt := range tests {
		suite.Equal(tt.category, tt.code.Category(), "code %d", tt.code)
	}
}

func (suite *ErrorTestSuite) TestIsCategory() {
	err := Wrap(ErrCodeRequestFailed, "request failed", errors.New("timeout"))
	suite.True(IsCategory(err, CategoryTransport))
	suite.False(IsCategory(err, CategoryBroker))
	suite.True(IsCategory(errors.New("plain"), CategoryUnknown))
}

func (suite *ErrorTestSuite) TestBrokerError() {
	brokerErr := &BrokerError{
		StatusCode: 403,
		Code:       40310000,
		Message:    "insufficient buying power",
		Body:       `{"code":40310000,"message":"insufficient buying power"}`,
	}
	err := Wrap(ErrCodeBrokerRejected, "POST orders rejected", brokerErr)

	suite.True(IsBrokerError(err))
	suite.Contains(err.Error(), `"message":"insufficient buying power"`)

	var target *BrokerError
	suite.True(As(err, &target))
	suite.Equal(40310000, target.Code)
	suite.Equal(403, target.StatusCode)

	suite.False(IsBrokerError(errors.New("standard error")))
	suite.False(IsBrokerError(nil))
}
