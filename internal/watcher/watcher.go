// Package watcher は1ティックごとの処理系列
// （キャプチャ → 認識 → 状態更新 → 発行）を駆動するループを提供する。
//
// 処理は厳密に逐次であり、カメラハンドル・プロフィール・在席状態は
// 全てこのループの単一ゴルーチンだけが触る。ティック間隔は在席状態に
// 依存し、スリープ中は起床遅延を抑えるため短くなる。
package watcher

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"kagamiban/internal/camera"
	"kagamiban/internal/presence"
	"kagamiban/internal/recognition"
	"kagamiban/internal/status"
)

// FrameSource はフレーム取得レイヤーのインターフェース
type FrameSource interface {
	Capture(ctx context.Context, retries int) ([]byte, error)
	Reinitialize(ctx context.Context) error
	Open(ctx context.Context) error
	Close(ctx context.Context)
	Kind() camera.Kind
}

// Recognizer はフレームを観測に変換するインターフェース
type Recognizer interface {
	Recognize(frame []byte, profiles map[string]recognition.Encoding) presence.Observation
}

// Config はループの調整値
type Config struct {
	AwakeInterval time.Duration // 起床中のティック間隔
	SleepInterval time.Duration // スリープ中のティック間隔

	AwakeRetries int // 起床中のキャプチャ再試行回数
	SleepRetries int // スリープ中のキャプチャ再試行回数（起床検出の信頼性を優先して多め）

	FailureThreshold int           // 再初期化を発動する連続失敗ティック数
	RecoveryWait     time.Duration // 復旧失敗後、最後の再試行までの待機
	SleepTimeout     time.Duration // スナップショット診断用
}

// Watcher は在席検出のメインループ
type Watcher struct {
	source    FrameSource
	adapter   Recognizer
	machine   *presence.Machine
	publisher status.Publisher

	profiles     map[string]recognition.Encoding
	profileNames []string

	config    Config
	sessionID string

	// 連続キャプチャ失敗ティック数（ティックをまたいで数える）
	failures int

	// テストから時刻を注入するためのフック
	now func() time.Time
}

// New は新しいWatcherを作成する
func New(source FrameSource, adapter Recognizer, machine *presence.Machine, publisher status.Publisher, profiles map[string]recognition.Encoding, profileNames []string, config Config) *Watcher {
	return &Watcher{
		source:       source,
		adapter:      adapter,
		machine:      machine,
		publisher:    publisher,
		profiles:     profiles,
		profileNames: profileNames,
		config:       config,
		sessionID:    uuid.NewString(),
		now:          time.Now,
	}
}

// Run はループを実行する。コンテキストのキャンセルで正常終了し、
// カメラの復旧不能時のみエラーを返す（呼び出し側は非ゼロ終了する）
// どちらの経路でもカメラのテアダウンは必ず実行される
func (w *Watcher) Run(ctx context.Context) error {
	// シャットダウン時もキャンセル済み ctx に縛られず全手順を実行する
	defer w.source.Close(context.Background())

	log.Printf("在席検出ループを開始します (session: %s)", w.sessionID)
	log.Printf("プロフィール %d 件: %v", len(w.profiles), w.profileNames)
	log.Printf("スリープタイムアウト: %v / ティック間隔: 起床中 %v, スリープ中 %v",
		w.config.SleepTimeout, w.config.AwakeInterval, w.config.SleepInterval)

	// 起動直後にゲスト状態を発行し、フロントエンドが即座に表示できるようにする
	w.publish(w.now())

	timer := time.NewTimer(w.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("シャットダウン要求を受信しました")
			return nil
		case <-timer.C:
			if err := w.Tick(ctx); err != nil {
				return err
			}
			timer.Reset(w.interval())
		}
	}
}

// Tick は1ティック分の処理を実行する
// 返り値のエラーは復旧不能なカメラ喪失のみ
func (w *Watcher) Tick(ctx context.Context) error {
	now := w.now()

	frame := w.capture(ctx)
	if frame == nil {
		if err := w.handleFailure(ctx); err != nil {
			return err
		}
	} else {
		w.failures = 0
	}

	obs := w.adapter.Recognize(frame, w.profiles)
	decision := w.machine.Update(obs, now)

	state := w.machine.State()
	if decision.Wake {
		log.Printf("顔を検出 - 起床します。ユーザー: %s", state.CurrentUser)
	}
	if decision.Sleep {
		log.Printf("%v 顔が見えません - スリープモードへ移行", w.config.SleepTimeout)
	}
	if decision.LogSleep {
		log.Printf("スリープ継続中... 顔を待っています (バックエンド: %s, 連続失敗: %d)", w.source.Kind(), w.failures)
	}

	if decision.Publish {
		w.publish(now)
	}

	return nil
}

// capture はフレームを取得する。失敗は nil で表し、エラーはここで吸収する
func (w *Watcher) capture(ctx context.Context) []byte {
	// スリープ中は起床検出の信頼性を優先して再試行を増やす
	retries := w.config.AwakeRetries
	if w.machine.State().Sleeping {
		retries = w.config.SleepRetries
	}

	frame, err := w.source.Capture(ctx, retries)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("フレーム取得に失敗: %v", err)
		}
		return nil
	}
	return frame
}

// handleFailure は連続失敗を数え、しきい値到達で再初期化を試みる
// しきい値1回の到達につき再初期化は1回だけ発動する
func (w *Watcher) handleFailure(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil // シャットダウン中の失敗は無視する
	}

	w.failures++
	if w.failures < w.config.FailureThreshold {
		return nil
	}

	log.Printf("カメラが %d ティック連続で失敗 - 復旧を試みます", w.failures)
	w.failures = 0

	if err := w.source.Reinitialize(ctx); err == nil {
		return nil
	}

	// 復旧失敗。長めに待ってから最後にもう一度だけ初期化を試みる
	log.Printf("カメラの復旧に失敗。%v 待機して再試行します...", w.config.RecoveryWait)
	select {
	case <-ctx.Done():
		return nil
	case <-time.After(w.config.RecoveryWait):
	}

	if err := w.source.Open(ctx); err != nil {
		return fmt.Errorf("カメラを復旧できません: %w", err)
	}
	return nil
}

// publish は現在の状態からスナップショットを構築して発行する
// 書き込み失敗はログのみで、ループは次のティックで回復する
func (w *Watcher) publish(now time.Time) {
	if err := w.publisher.Publish(w.snapshot(now)); err != nil {
		log.Printf("ステータスの発行に失敗: %v", err)
	}
}

// snapshot は在席状態と診断情報から公開用スナップショットを構築する
func (w *Watcher) snapshot(now time.Time) status.Snapshot {
	state := w.machine.State()

	var user *string
	if !state.Sleeping {
		name := state.CurrentUser
		if name == "" {
			name = presence.GuestName
		}
		user = &name
	}

	return status.Snapshot{
		User:          user,
		IsKnown:       !state.Sleeping && state.Known,
		Sleeping:      state.Sleeping,
		TimeSinceFace: w.machine.TimeSinceFace(now).Seconds(),
		ProfileCount:  len(w.profiles),
		ProfileNames:  w.profileNames,
		SleepTimeout:  w.config.SleepTimeout.Seconds(),
		CameraType:    string(w.source.Kind()),
		SessionID:     w.sessionID,
	}.Timestamped(now)
}

// interval は現在の在席状態に応じたティック間隔を返す
func (w *Watcher) interval() time.Duration {
	if w.machine.State().Sleeping {
		return w.config.SleepInterval
	}
	return w.config.AwakeInterval
}
