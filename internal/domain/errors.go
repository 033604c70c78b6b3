package domain

import (
	"errors"
	"fmt"
)

// Code é o motivo legível por máquina devolvido nas bordas do engine
type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CodeInvalidAmount     Code = "INVALID_AMOUNT"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
	CodeInvalidNonce      Code = "INVALID_NONCE"
	CodeTooManyPending    Code = "TOO_MANY_PENDING"
	CodeInvalidSignature  Code = "INVALID_SIGNATURE"
	CodeTransientStore    Code = "TRANSIENT_STORE_ERROR"
	CodeUnexpected        Code = "UNEXPECTED_ERROR"
)

// Error carrega o código, uma mensagem segura para o cliente e a causa
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is compara apenas pelo código, assim errors.Is(err, ErrConflict) vale
// para qualquer *Error com CodeConflict
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrValidation        = &Error{Code: CodeValidation, Message: "invalid input"}
	ErrInsufficientFunds = &Error{Code: CodeInsufficientFunds, Message: "insufficient points"}
	ErrInvalidAmount     = &Error{Code: CodeInvalidAmount, Message: "amount must be positive"}
	ErrNotFound          = &Error{Code: CodeNotFound, Message: "not found"}
	ErrConflict          = &Error{Code: CodeConflict, Message: "conflict"}
	ErrInvalidNonce      = &Error{Code: CodeInvalidNonce, Message: "invalid or expired nonce"}
	ErrTooManyPending    = &Error{Code: CodeTooManyPending, Message: "too many pending reward requests"}
	ErrInvalidSignature  = &Error{Code: CodeInvalidSignature, Message: "invalid reward signature"}
	ErrTransientStore    = &Error{Code: CodeTransientStore, Message: "temporarily unavailable, retry later"}
	ErrUnexpected        = &Error{Code: CodeUnexpected, Message: "internal error"}
)

// Wrap anexa uma causa a um erro-base mantendo o código
func Wrap(base *Error, err error) error {
	return &Error{Code: base.Code, Message: base.Message, Err: err}
}

// Invalid cria um ValidationError com detalhe do campo
func Invalid(format string, args ...any) error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// CodeOf devolve o código do primeiro *Error da cadeia; erros sem código são Unexpected
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnexpected
}
