package xpub

import "fmt"

// Failure is the error variant of a Result. It implements error so it can be
// returned up a conventional Go call stack once matched.
type Failure struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (f *Failure) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Failure) Unwrap() error { return f.Cause }

// Result is Success or Failure. The zero value is Success.
type Result struct {
	failure *Failure
}

// Ok returns the Success variant.
func Ok() Result { return Result{} }

// Fail returns the Failure variant.
func Fail(code ErrorCode, message string, cause error) Result {
	return Result{failure: &Failure{Code: code, Message: message, Cause: cause}}
}

func (r Result) IsSuccess() bool { return r.failure == nil }

// Failure returns the failure and true when r is the Failure variant.
func (r Result) Failure() (Failure, bool) {
	if r.failure == nil {
		return Failure{}, false
	}
	return *r.failure, true
}

// Err returns nil on Success and a *Failure otherwise.
func (r Result) Err() error {
	if r.failure == nil {
		return nil
	}
	return r.failure
}

// Match runs exactly one of the handlers. Both are required.
func (r Result) Match(onSuccess func(), onFailure func(Failure)) {
	if onSuccess == nil || onFailure == nil {
		panic(ErrNilHandler)
	}
	if r.failure != nil {
		onFailure(*r.failure)
		return
	}
	onSuccess()
}

func (r Result) String() string {
	if r.failure == nil {
		return "Success"
	}
	return "Failure(" + r.failure.Error() + ")"
}

// MatchResult folds r into a value of type R.
func MatchResult[R any](r Result, onSuccess func() R, onFailure func(Failure) R) R {
	if onSuccess == nil || onFailure == nil {
		panic(ErrNilHandler)
	}
	if r.failure != nil {
		return onFailure(*r.failure)
	}
	return onSuccess()
}

// ValueResult is Success carrying a T, or Failure.
type ValueResult[T any] struct {
	value   T
	failure *Failure
}

// OkValue returns the Success variant carrying v.
func OkValue[T any](v T) ValueResult[T] { return ValueResult[T]{value: v} }

// FailValue returns the Failure variant.
func FailValue[T any](code ErrorCode, message string, cause error) ValueResult[T] {
	return ValueResult[T]{failure: &Failure{Code: code, Message: message, Cause: cause}}
}

func (r ValueResult[T]) IsSuccess() bool { return r.failure == nil }

// Value returns the payload and true on Success.
func (r ValueResult[T]) Value() (T, bool) {
	if r.failure != nil {
		var zero T
		return zero, false
	}
	return r.value, true
}

func (r ValueResult[T]) Failure() (Failure, bool) {
	if r.failure == nil {
		return Failure{}, false
	}
	return *r.failure, true
}

func (r ValueResult[T]) Err() error {
	if r.failure == nil {
		return nil
	}
	return r.failure
}

// Match runs exactly one of the handlers. Both are required.
func (r ValueResult[T]) Match(onSuccess func(T), onFailure func(Failure)) {
	if onSuccess == nil || onFailure == nil {
		panic(ErrNilHandler)
	}
	if r.failure != nil {
		onFailure(*r.failure)
		return
	}
	onSuccess(r.value)
}

// MatchValue folds r into a value of type R.
func MatchValue[T, R any](r ValueResult[T], onSuccess func(T) R, onFailure func(Failure) R) R {
	if onSuccess == nil || onFailure == nil {
		panic(ErrNilHandler)
	}
	if r.failure != nil {
		return onFailure(*r.failure)
	}
	return onSuccess(r.value)
}
