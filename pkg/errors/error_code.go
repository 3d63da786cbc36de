package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

// Category groups error codes by the layer that produced them.
type Category string

const (
	CategoryUnknown       Category = "unknown"
	CategoryConfiguration Category = "configuration"
	CategoryTransport     Category = "transport"
	CategoryBroker        Category = "broker"
	CategoryEncoding      Category = "encoding"
	CategoryProtocol      Category = "protocol"
)

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Configuration errors (100-199)
	ErrCodeInvalidConfiguration ErrorCode = 100
	ErrCodeMissingCredential    ErrorCode = 101
	ErrCodeMissingField         ErrorCode = 102
	ErrCodeInvalidParameter     ErrorCode = 103
	ErrCodeInvalidOrder         ErrorCode = 104

	// Transport errors (200-299)
	ErrCodeRequestFailed     ErrorCode = 200
	ErrCodeRateLimitAborted  ErrorCode = 201
	ErrCodeDialFailed        ErrorCode = 203
	ErrCodeStreamWriteFailed ErrorCode = 204

	// Broker errors (300-399)
	ErrCodeBrokerRejected ErrorCode = 300
	ErrCodeHTTPStatus     ErrorCode = 301

	// Encoding errors (400-499)
	ErrCodeDecodeFailed     ErrorCode = 400
	ErrCodeUnexpectedFormat ErrorCode = 401
	ErrCodeEncodeFailed     ErrorCode = 402

	// Protocol and stream errors (500-599)
	ErrCodeAuthenticationRejected ErrorCode = 500
	ErrCodeInvalidStreamState     ErrorCode = 501
	ErrCodeStreamClosed           ErrorCode = 502
	ErrCodeAuthenticationTimeout  ErrorCode = 503
)

// Category returns the category the code belongs to.
func (c ErrorCode) Category() Category {
	switch {
	case c >= 100 && c < 200:
		return CategoryConfiguration
	case c >= 200 && c < 300:
		return CategoryTransport
	case c >= 300 && c < 400:
		return CategoryBroker
	case c >= 400 && c < 500:
		return CategoryEncoding
	case c >= 500 && c < 600:
		return CategoryProtocol
	default:
		return CategoryUnknown
	}
}
