// Package mail は確認コードメールの組み立てと送信を提供する。
package mail

import (
	"context"
	"time"
)

// Kind はメールの種類を表す。
type Kind string

const (
	// KindEmailVerification は登録時・再送信時のメールアドレス確認コード。
	KindEmailVerification Kind = "email_verification"
	// KindPasswordReset はパスワード再設定コード。
	KindPasswordReset Kind = "password_reset"
)

// Message は送信する確認コードメールの内容。
type Message struct {
	To        string
	Kind      Kind
	Code      string
	Locale    string
	ExpiresIn time.Duration
}

// Dispatcher は確認コードメールの送信インターフェース。
// 実装はctxのキャンセルに従い、無期限にブロックしてはならない。
type Dispatcher interface {
	Send(ctx context.Context, msg Message) error
}

// Recorder はメール送信結果を記録するインターフェース。metrics.Collectorが実装する。
type Recorder interface {
	RecordMailDispatch(kind, result string, duration time.Duration)
}

// 送信結果ラベル
const (
	resultSent   = "sent"
	resultFailed = "failed"
)

type instrumented struct {
	next     Dispatcher
	recorder Recorder
}

// Instrument は送信の所要時間と結果をRecorderに記録するDispatcherを返す。
func Instrument(next Dispatcher, recorder Recorder) Dispatcher {
	return &instrumented{next: next, recorder: recorder}
}

func (d *instrumented) Send(ctx context.Context, msg Message) error {
	start := time.Now()
	err := d.next.Send(ctx, msg)
	result := resultSent
	if err != nil {
		result = resultFailed
	}
	d.recorder.RecordMailDispatch(string(msg.Kind), result, time.Since(start))
	return err
}
