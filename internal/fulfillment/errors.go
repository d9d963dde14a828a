package fulfillment

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation 输入不合法，具体字段见 *ValidationError。
	ErrValidation = errors.New("validation failed")
	// ErrStateConflict 订单当前状态不允许该操作。
	ErrStateConflict = errors.New("order state conflict")
	// ErrQuantityOutOfRange 购买数量超出商品配置区间。
	ErrQuantityOutOfRange = errors.New("quantity out of range")
	// ErrProductUnavailable 商品已下架。
	ErrProductUnavailable = errors.New("product unavailable")
	// ErrUnauthorized 调用方无权读取该订单。
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError 某个字段校验失败。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
