package domain

import "errors"

// Result é a resposta declarativa exposta para a camada web
type Result struct {
	Success bool   `json:"success"`
	Code    Code   `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func OK() Result { return Result{Success: true} }

// Fail converte um erro em Result sem vazar detalhes internos
func Fail(err error) Result {
	code := CodeOf(err)
	var e *Error
	if code == CodeUnexpected || !errors.As(err, &e) {
		return Result{Code: CodeUnexpected, Message: ErrUnexpected.Message}
	}
	msg := e.Message
	if code == CodeTransientStore {
		msg = ErrTransientStore.Message
	}
	return Result{Code: code, Message: msg}
}
