package model

import (
	"errors"
	"fmt"
)

// SourceErrorKind は外部スクロブルサービスの失敗種別を表す。
type SourceErrorKind string

const (
	// SourceErrorNotFound は指定ユーザーが外部サービスに存在しないことを示す。
	SourceErrorNotFound SourceErrorKind = "not_found"
	// SourceErrorRateLimited は外部サービスのレート制限に達したことを示す。
	SourceErrorRateLimited SourceErrorKind = "rate_limited"
	// SourceErrorUnknown は分類できない失敗を示す。
	SourceErrorUnknown SourceErrorKind = "unknown"
)

// SourceError は外部スクロブルサービス呼び出しの型付き失敗を表す。
// 同期ジョブはこのエラーを受けてジョブを中断し、チェックポイントは触らずに
// 次回スケジュールでの自然なリトライに任せる。
type SourceError struct {
	Kind    SourceErrorKind
	Method  string // 失敗したAPIメソッド名
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *SourceError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Method, e.Message)
}

// NewSourceError は型付きの外部サービスエラーを生成する。
func NewSourceError(kind SourceErrorKind, method, message string) *SourceError {
	return &SourceError{
		Kind:    kind,
		Method:  method,
		Message: message,
	}
}

// IsSourceNotFound はエラーが「ユーザー不在」の外部サービスエラーかどうかを判定する。
func IsSourceNotFound(err error) bool {
	var se *SourceError
	return errors.As(err, &se) && se.Kind == SourceErrorNotFound
}

// IsSourceRateLimited はエラーが「レート制限」の外部サービスエラーかどうかを判定する。
func IsSourceRateLimited(err error) bool {
	var se *SourceError
	return errors.As(err, &se) && se.Kind == SourceErrorRateLimited
}
