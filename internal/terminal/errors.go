package terminal

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication возвращается, если терминал отклонил логин и пароль.
	ErrAuthentication = errors.New("terminal authentication failed")
	// ErrUnknownPartner возвращается, если в терминале нет клиента с указанным телефоном.
	ErrUnknownPartner = errors.New("no partner with such phone")
	// ErrInvalidPhone возвращается при попытке найти клиента по некорректному номеру.
	ErrInvalidPhone = errors.New("incorrect phone")
)

// TransportError описывает сетевую ошибку или неуспешный HTTP-статус ответа терминала.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: unexpected status: %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport сообщает, является ли ошибка сетевой ошибкой терминала.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
