package camera

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// ErrNoBackend は利用可能なバックエンドが1つもないことを表す
// このエラーはプロセス継続不能を意味する（カメラなしで在席検出はできない）
var ErrNoBackend = errors.New("利用可能なカメラバックエンドがありません")

// Source は候補バックエンドの選択・フレーム取得・復旧を担う
// カメラハンドルは常に1つだけで、バックエンド種別と一体で差し替えられる
type Source struct {
	candidates []Backend
	active     Backend

	retryPause time.Duration // キャプチャ再試行間の待機
	settleWait time.Duration // 再初期化前のデバイス安定待ち
}

// DefaultBackends は設定から優先順のバックエンド一覧を作成する
// Raspberry Pi ネイティブを優先し、汎用V4L2を最後のフォールバックにする
func DefaultBackends(settings Settings) []Backend {
	return []Backend{
		NewLibCameraBackend(settings),
		NewRaspistillBackend(settings),
		NewV4L2Backend(settings),
	}
}

// NewSource は新しいSourceを作成する
// candidates は優先順で並べる（先頭から試行される）
func NewSource(candidates []Backend, retryPause, settleWait time.Duration) *Source {
	return &Source{
		candidates: candidates,
		retryPause: retryPause,
		settleWait: settleWait,
	}
}

// Kind は現在アクティブなバックエンドの種別を返す
// 未初期化の場合は空文字列
func (s *Source) Kind() Kind {
	if s.active == nil {
		return ""
	}
	return s.active.Kind()
}

// Open は候補バックエンドを順に試し、最初に初期化できたものを採用する
// バックエンドの不在はスキップ、初期化失敗もログを残してスキップする
// 全候補が失敗した場合のみ ErrNoBackend を返す
func (s *Source) Open(ctx context.Context) error {
	for _, backend := range s.candidates {
		if !backend.Available(ctx) {
			log.Printf("バックエンド %s はこのホストでは利用できません。次を試します", backend.Kind())
			continue
		}

		if err := backend.Open(ctx); err != nil {
			log.Printf("バックエンド %s の初期化に失敗: %v。次を試します", backend.Kind(), err)
			continue
		}

		s.active = backend
		log.Printf("カメラバックエンド %s を初期化しました", backend.Kind())
		return nil
	}

	return ErrNoBackend
}

// Capture は最大 retries+1 回の試行で1フレームを取得する
// 取得失敗は一時的なもの（USBの瞬断等）である前提なので、
// 試行間は短い固定待機のみでバックオフはしない
func (s *Source) Capture(ctx context.Context, retries int) ([]byte, error) {
	if s.active == nil {
		return nil, ErrNoBackend
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		frame, err := s.active.Capture(ctx)
		if err == nil && len(frame) > 0 {
			return frame, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = errors.New("空のフレームが返されました")
		}

		// 最後の試行でなければ少し待ってから再試行
		if attempt < retries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.retryPause):
			}
		}
	}

	return nil, fmt.Errorf("%d回の試行でフレーム取得に失敗: %w", retries+1, lastErr)
}

// Reinitialize は現在のバックエンドを完全に解放してから再選択する
// 解放は全手順を個別に実行し、途中の失敗が後続の解放を妨げないようにする
func (s *Source) Reinitialize(ctx context.Context) error {
	log.Printf("カメラの再初期化を試みます...")
	s.teardown(ctx)
	s.active = nil

	// デバイスが落ち着くまで少し待つ
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.settleWait):
	}

	return s.Open(ctx)
}

// Close はアクティブなバックエンドを解放する
// シャットダウン時にも再初期化と同じ「全手順を個別に実行」の規律を使う
func (s *Source) Close(ctx context.Context) {
	s.teardown(ctx)
	s.active = nil
}

// teardown は全ての解放手順を実行する。各手順のエラーはログに残すだけで、
// 残りの手順の実行は必ず継続する
func (s *Source) teardown(ctx context.Context) {
	if s.active == nil {
		return
	}

	kind := s.active.Kind()
	for _, step := range s.active.TeardownSteps() {
		if err := step.Run(ctx); err != nil {
			log.Printf("カメラ解放手順 %s/%s でエラー: %v（残りの手順は続行）", kind, step.Name, err)
		}
	}
}

// MockBackend はテスト用のバックエンド実装
type MockBackend struct {
	BackendKind Kind

	mu sync.Mutex

	// テスト制御用
	Unavailable  bool    // Available を false にする
	OpenErr      error   // Open が返すエラー
	CaptureErrs  []error // Capture が順に返すエラー（nil は成功）
	Frame        []byte  // 成功時に返すフレーム
	StopErr      error   // stop 手順が返すエラー
	CloseErr     error   // close 手順が返すエラー
	OpenCalls    int
	CaptureCalls int
	StopCalls    int
	CloseCalls   int
}

// NewMockBackend は成功するモックバックエンドを作成する
func NewMockBackend(kind Kind) *MockBackend {
	return &MockBackend{
		BackendKind: kind,
		Frame:       []byte{0xFF, 0xD8, 0x00, 0xFF, 0xD9},
	}
}

// Kind はバックエンド種別を返す
func (m *MockBackend) Kind() Kind {
	return m.BackendKind
}

// Available は利用可能かを返す
func (m *MockBackend) Available(_ context.Context) bool {
	return !m.Unavailable
}

// Open は設定されたエラーを返す
func (m *MockBackend) Open(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenCalls++
	return m.OpenErr
}

// Capture は CaptureErrs を順に消費し、成功時はフレームを返す
func (m *MockBackend) Capture(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CaptureCalls++

	if len(m.CaptureErrs) > 0 {
		err := m.CaptureErrs[0]
		m.CaptureErrs = m.CaptureErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return m.Frame, nil
}

// TeardownSteps は stop と close の2手順を返す
func (m *MockBackend) TeardownSteps() []TeardownStep {
	return []TeardownStep{
		{Name: "stop", Run: func(_ context.Context) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.StopCalls++
			return m.StopErr
		}},
		{Name: "close", Run: func(_ context.Context) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.CloseCalls++
			return m.CloseErr
		}},
	}
}
