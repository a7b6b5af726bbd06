package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation            Code = "VALIDATION_ERROR"
	CodeInvalidQuantity       Code = "INVALID_QUANTITY"
	CodeInvalidAmount         Code = "INVALID_AMOUNT"
	CodeInvalidFee            Code = "INVALID_FEE"
	CodeInvalidRequest        Code = "INVALID_REQUEST"
	CodeInvalidSignature      Code = "INVALID_SIGNATURE"
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodeForbidden             Code = "FORBIDDEN"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeStateConflict         Code = "STATE_CONFLICT"
	CodeEmptyCart             Code = "EMPTY_CART"
	CodeProductUnavailable    Code = "PRODUCT_UNAVAILABLE"
	CodeInsufficientInventory Code = "INSUFFICIENT_INVENTORY"
	CodePaymentRejected       Code = "PAYMENT_REJECTED"
	CodeSecurityMismatch      Code = "SECURITY_MISMATCH"
	CodeIdempotency           Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInternal              Code = "INTERNAL_ERROR"
	CodeDependency            Code = "DEPENDENCY_UNAVAILABLE"
	CodePaymentUnavailable    Code = "PAYMENT_SERVICE_UNAVAILABLE"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation: {
		HTTPStatus:     http.StatusBadRequest,
		PublicMessage:  "validation failed",
		DetailsAllowed: true,
	},
	CodeInvalidQuantity: {
		HTTPStatus:     http.StatusBadRequest,
		PublicMessage:  "quantity is not allowed",
		DetailsAllowed: true,
	},
	CodeInvalidAmount: {
		HTTPStatus:     http.StatusBadRequest,
		PublicMessage:  "amount is out of range",
		DetailsAllowed: true,
	},
	CodeInvalidFee: {
		HTTPStatus:     http.StatusBadRequest,
		PublicMessage:  "application fee is out of range",
		DetailsAllowed: true,
	},
	CodeInvalidRequest: {
		HTTPStatus:     http.StatusBadRequest,
		PublicMessage:  "invalid request",
		DetailsAllowed: true,
	},
	CodeInvalidSignature: {
		HTTPStatus:    http.StatusBadRequest,
		PublicMessage: "invalid signature",
	},
	CodeUnauthorized: {
		HTTPStatus:    http.StatusUnauthorized,
		PublicMessage: "authentication required",
	},
	CodeForbidden: {
		HTTPStatus:    http.StatusForbidden,
		PublicMessage: "access denied",
	},
	CodeNotFound: {
		HTTPStatus:    http.StatusNotFound,
		PublicMessage: "resource not found",
	},
	CodeConflict: {
		HTTPStatus:    http.StatusConflict,
		PublicMessage: "conflict detected",
	},
	CodeStateConflict: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		PublicMessage:  "state transition disallowed",
		DetailsAllowed: true,
	},
	CodeEmptyCart: {
		HTTPStatus:    http.StatusUnprocessableEntity,
		PublicMessage: "cart is empty",
	},
	CodeProductUnavailable: {
		HTTPStatus:     http.StatusConflict,
		PublicMessage:  "product is unavailable",
		DetailsAllowed: true,
	},
	CodeInsufficientInventory: {
		HTTPStatus:     http.StatusConflict,
		PublicMessage:  "insufficient inventory",
		DetailsAllowed: true,
	},
	CodePaymentRejected: {
		HTTPStatus:     http.StatusPaymentRequired,
		PublicMessage:  "payment was declined",
		DetailsAllowed: true,
	},
	CodeSecurityMismatch: {
		HTTPStatus:    http.StatusConflict,
		PublicMessage: "payment verification failed",
	},
	CodeIdempotency: {
		HTTPStatus:     http.StatusConflict,
		PublicMessage:  "idempotency key reused",
		DetailsAllowed: true,
	},
	CodeInternal: {
		HTTPStatus:    http.StatusInternalServerError,
		Retryable:     true,
		PublicMessage: "internal server error",
	},
	CodeDependency: {
		HTTPStatus:     http.StatusServiceUnavailable,
		Retryable:      true,
		PublicMessage:  "dependency unavailable",
		DetailsAllowed: true,
	},
	CodePaymentUnavailable: {
		HTTPStatus:    http.StatusServiceUnavailable,
		Retryable:     true,
		PublicMessage: "payment service unavailable",
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

// Retryable reports whether callers may retry the failed operation unchanged.
func (e *Error) Retryable() bool {
	return MetadataFor(e.Code()).Retryable
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}
