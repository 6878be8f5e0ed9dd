package errprocess

import (
	"errors"
	"fmt"

	"community_chat_service/pkg/logger"

	"go.uber.org/zap"
)

// Set set err info
func Set(errMsg string) error {
	logger.Log.Error(errMsg)
	return errors.New(errMsg)
}

// Wrap 以 sentinel 包住底層錯誤, errors.Is 可同時比對兩者
func Wrap(sentinel error, op string, cause error) error {
	if cause == nil {
		return nil
	}
	logger.Log.Error(op, zap.Error(cause), zap.String("kind", sentinel.Error()))
	return &wrapped{sentinel: sentinel, op: op, cause: cause}
}

type wrapped struct {
	sentinel error
	op       string
	cause    error
}

func (w *wrapped) Error() string {
	return fmt.Sprintf("%s: %s: %v", w.op, w.sentinel, w.cause)
}

func (w *wrapped) Unwrap() []error {
	return []error{w.sentinel, w.cause}
}
