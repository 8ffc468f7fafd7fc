// Package apperr 定义核心模块共享的错误分类。
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrSubscriptionLost = errors.New("subscription lost")
	ErrLoadInProgress   = errors.New("load already in progress")
	ErrInvalidCursor    = errors.New("invalid cursor")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrForbidden        = errors.New("forbidden")
)

// transientError 标记可安全重试的后端故障（网络、存储）。
type transientError struct{ err error }

func (e *transientError) Error() string { return "transient: " + e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient 把后端错误包装为 TransientIO；nil 原样返回。
func Transient(err error) error {
	if err == nil {
		return nil
	}
	var te *transientError
	if errors.As(err, &te) {
		return err
	}
	return &transientError{err: err}
}

// IsTransient 判断调用方能否重试同一调用。
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Cascade steps
const (
	StepLikes         = "likes"
	StepComments      = "comments"
	StepNotifications = "notifications"
	StepRoot          = "root"
)

// StepFailure 记录级联删除某一步失败的依赖项。
type StepFailure struct {
	Step string
	ID   string
	Err  error
}

// CascadeError 即 PartialCascadeFailure：根实体未被删除。
type CascadeError struct {
	RootID   string
	Failures []StepFailure
}

func (e *CascadeError) Error() string {
	return fmt.Sprintf("cascade delete of %s incomplete: %d failure(s) in [%s]",
		e.RootID, len(e.Failures), strings.Join(e.FailedSteps(), ", "))
}

func (e *CascadeError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// FailedSteps 返回去重后的失败步骤。
func (e *CascadeError) FailedSteps() []string {
	var out []string
	seen := make(map[string]bool)
	for _, f := range e.Failures {
		if !seen[f.Step] {
			seen[f.Step] = true
			out = append(out, f.Step)
		}
	}
	return out
}
