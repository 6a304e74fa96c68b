// Package errors 提供统一错误辅助与可恢复/致命分类，不依赖 internal
package errors

import (
	"errors"
	"fmt"
)

// 常用哨兵错误
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidArg   = errors.New("invalid argument")
	ErrInvalidState = errors.New("invalid state")
)

// Severity 错误严重级别
type Severity int

const (
	// SeverityUnknown 未分类错误，按致命处理
	SeverityUnknown Severity = iota
	// SeverityRecoverable 可恢复：重新同步后本步返回退化结果
	SeverityRecoverable
	// SeverityFatal 致命：无法继续通信，终止本次运行
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityRecoverable:
		return "recoverable"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classified 由领域错误实现，声明自身严重级别
type Classified interface {
	error
	Severity() Severity
}

// SeverityOf 沿错误链查找第一个 Classified；未找到时为 SeverityUnknown
func SeverityOf(err error) Severity {
	if err == nil {
		return SeverityUnknown
	}
	var c Classified
	if errors.As(err, &c) {
		return c.Severity()
	}
	return SeverityUnknown
}

// Recoverable 是否可恢复
func Recoverable(err error) bool {
	return err != nil && SeverityOf(err) == SeverityRecoverable
}

// Fatal 是否致命（未分类错误同样视为致命）
func Fatal(err error) bool {
	return err != nil && SeverityOf(err) != SeverityRecoverable
}

// Wrap 包装错误并附加消息
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 带格式的 Wrap
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is 同标准库 errors.Is，便于调用方只导入本包
func Is(err, target error) bool { return errors.Is(err, target) }

// As 同标准库 errors.As
func As(err error, target interface{}) bool { return errors.As(err, target) }

// New 同标准库 errors.New
func New(text string) error { return errors.New(text) }
