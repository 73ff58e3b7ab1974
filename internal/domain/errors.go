package domain

import (
	"errors"
	"fmt"
)

// ErrorKind — закрытый перечень видов ошибок ядра.
type ErrorKind string

const (
	KindCredentialInvalid ErrorKind = "credential_invalid"
	KindGenerationFailed  ErrorKind = "generation_failed"
	KindPublishFailed     ErrorKind = "publish_failed"
	KindNoEligiblePost    ErrorKind = "no_eligible_post"
	KindNotFound          ErrorKind = "not_found"
)

// Error несёт вид ошибки и структурный контекст для журнала и ответов API.
type Error struct {
	Kind      ErrorKind
	ChannelID int64
	Slot      *SlotKey
	Msg       string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap поддерживает errors.Is/As по вложенной ошибке.
func (e *Error) Unwrap() error { return e.Err }

// NewError создаёт ошибку ядра.
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// WrapError оборачивает причину в ошибку ядра.
func WrapError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// IsKind сообщает, относится ли ошибка к указанному виду.
func IsKind(err error, kind ErrorKind) bool {
	var domErr *Error
	if errors.As(err, &domErr) {
		return domErr.Kind == kind
	}
	return false
}

// ErrNotFound — сущность не найдена в хранилище.
var ErrNotFound = NewError(KindNotFound, "запись не найдена")

// ErrDuplicateSlot возвращается при попытке добавить уже существующий слот (час, минута).
var ErrDuplicateSlot = errors.New("слот с таким временем уже есть в расписании")

// ErrBotNotRunning возвращается, когда операция требует запущенного планировщика.
var ErrBotNotRunning = errors.New("планировщик не запущен")
