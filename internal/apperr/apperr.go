package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindForbidden  Kind = "forbidden"
	KindConflict   Kind = "conflict"
	KindExternal   Kind = "external"
	KindIntegrity  Kind = "integrity"
	KindInternal   Kind = "internal"
)

const (
	CodeValidation          = "ValidationError"
	CodeInvalidPricingInput = "InvalidPricingInput"
	CodeStoreNotFound       = "StoreNotFound"
	CodeProductNotFound     = "ProductNotFound"
	CodeSaleNotFound        = "SaleNotFound"
	CodeForbidden           = "Forbidden"
	CodeInsufficientStock   = "InsufficientStock"
	CodeSequenceExhausted   = "SequenceExhausted"
	CodeReconcileInProgress = "ReconcileInProgress"
	CodeExternalFetchFailed = "ExternalFetchFailed"
	CodeUnresolvedReference = "UnresolvedReference"
	CodeDuplicateInvoice    = "DuplicateInvoice"
	CodeNegativeQuantity    = "NegativeQuantity"
	CodeInternal            = "InternalError"
)

// Action tells the caller what to do about a failure.
type Action string

const (
	ActionFixInput Action = "fix_input"
	ActionRetry    Action = "retry"
	ActionEscalate Action = "escalate"
)

// Error is the typed error returned by the service layer. Stores return
// plain sentinel errors; the service converts them into *Error values.
type Error struct {
	Kind      Kind   `json:"-"`
	Code      string `json:"error"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	ProductID string `json:"productId,omitempty"`
	Err       error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code so callers can write
// errors.Is(err, &apperr.Error{Code: apperr.CodeInsufficientStock}).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code != "" && other.Code == e.Code
}

func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (e *Error) Action() Action {
	switch e.Kind {
	case KindValidation, KindNotFound, KindForbidden:
		return ActionFixInput
	case KindConflict:
		switch e.Code {
		case CodeSequenceExhausted:
			return ActionEscalate
		case CodeInsufficientStock:
			// Retrying the same quantities fails again.
			return ActionFixInput
		}
		return ActionRetry
	case KindExternal:
		return ActionRetry
	default:
		return ActionEscalate
	}
}

func New(kind Kind, code string, message string, details string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Details: details}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func HasCode(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

func Validation(message string, field string) *Error {
	details := ""
	if field != "" {
		details = fmt.Sprintf("field: %s", field)
	}
	return New(KindValidation, CodeValidation, message, details)
}

func InvalidPricingInput(productID string, err error) *Error {
	e := New(KindValidation, CodeInvalidPricingInput, "invalid pricing input", err.Error())
	e.ProductID = productID
	e.Err = err
	return e
}

func StoreNotFound(storeID string) *Error {
	return New(KindNotFound, CodeStoreNotFound, "store not found", fmt.Sprintf("store id: %s", storeID))
}

func ProductNotFound(productID string) *Error {
	e := New(KindNotFound, CodeProductNotFound, "product not found", fmt.Sprintf("product id: %s", productID))
	e.ProductID = productID
	return e
}

func SaleNotFound(saleID string) *Error {
	return New(KindNotFound, CodeSaleNotFound, "sale not found", fmt.Sprintf("sale id: %s", saleID))
}

func Forbidden(message string) *Error {
	return New(KindForbidden, CodeForbidden, message, "")
}

func InsufficientStock(productID string, productName string, requested int) *Error {
	name := productName
	if name == "" {
		name = productID
	}
	e := New(KindConflict, CodeInsufficientStock, fmt.Sprintf("Insufficient inventory for %s", name), fmt.Sprintf("requested: %d", requested))
	e.ProductID = productID
	return e
}

func SequenceExhausted(storeID string, err error) *Error {
	e := New(KindConflict, CodeSequenceExhausted, "invoice sequence exhausted for store", fmt.Sprintf("store id: %s", storeID))
	e.Err = err
	return e
}

func ReconcileInProgress() *Error {
	return New(KindConflict, CodeReconcileInProgress, "an inventory reconciliation is already running", "")
}

func ExternalFetchFailed(err error) *Error {
	e := New(KindExternal, CodeExternalFetchFailed, "failed to fetch external inventory snapshot", err.Error())
	e.Err = err
	return e
}

func DuplicateInvoice(invoiceNumber string, err error) *Error {
	e := New(KindIntegrity, CodeDuplicateInvoice, "duplicate invoice number", invoiceNumber)
	e.Err = err
	return e
}

func NegativeQuantity(productID string, storeID string, err error) *Error {
	e := New(KindIntegrity, CodeNegativeQuantity, "ledger quantity would become negative", fmt.Sprintf("product id: %s, store id: %s", productID, storeID))
	e.ProductID = productID
	e.Err = err
	return e
}

func Internal(message string, err error) *Error {
	details := ""
	if err != nil {
		details = err.Error()
	}
	e := New(KindInternal, CodeInternal, message, details)
	e.Err = err
	return e
}
