package errors

import (
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

func (suite *ErrorTestSuite) TestNew() {
	err := New(ErrCodeDataUnavailable, "no provider configured")
	suite.Equal("[200] no provider configured", err.Error())
	suite.Equal(ErrCodeDataUnavailable, err.Code)
	suite.Nil(err.Cause)
}

func (suite *ErrorTestSuite) TestNewf() {
	err := Newf(ErrCodeDataInconsistent, "duplicate bar for %s", "AAPL")
	suite.Equal("[201] duplicate bar for AAPL", err.Error())
}

func (suite *ErrorTestSuite) TestWrapPreservesCause() {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := Wrap(ErrCodeConnectionLost, "failed to reach terminal", cause)

	suite.ErrorIs(err, cause)
	suite.Contains(err.Error(), "connection refused")
}

func (suite *ErrorTestSuite) TestGetCode() {
	err := New(ErrCodeInsufficientLiquidity, "order exceeds volume cap")
	suite.Equal(ErrCodeInsufficientLiquidity, GetCode(err))

	wrapped := fmt.Errorf("outer: %w", err)
	suite.Equal(ErrCodeInsufficientLiquidity, GetCode(wrapped))

	suite.Equal(ErrCodeUnknown, GetCode(fmt.Errorf("plain error")))
	suite.Equal(ErrCodeUnknown, GetCode(nil))
}

func (suite *ErrorTestSuite) TestHasCode() {
	err := Wrap(ErrCodeOrderRejected, "venue refused", fmt.Errorf("insufficient funds"))
	suite.True(HasCode(err, ErrCodeOrderRejected))
	suite.False(HasCode(err, ErrCodeConnectionLost))
}
