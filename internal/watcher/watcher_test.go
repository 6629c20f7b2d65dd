package watcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"kagamiban/internal/camera"
	"kagamiban/internal/presence"
	"kagamiban/internal/recognition"
	"kagamiban/internal/status"
)

// fakeSource はテスト用のフレームソース
type fakeSource struct {
	frames []captureResult // キャプチャ結果のキュー（空になったら最後の結果を繰り返す）

	captureCalls []int // 各呼び出しで渡された retries
	reinitCalls  int
	openCalls    int
	closeCalls   int

	reinitErr error
	openErr   error
}

type captureResult struct {
	frame []byte
	err   error
}

func (s *fakeSource) Capture(_ context.Context, retries int) ([]byte, error) {
	s.captureCalls = append(s.captureCalls, retries)
	if len(s.frames) == 0 {
		return nil, errors.New("キューが空")
	}
	result := s.frames[0]
	if len(s.frames) > 1 {
		s.frames = s.frames[1:]
	}
	return result.frame, result.err
}

func (s *fakeSource) Reinitialize(_ context.Context) error {
	s.reinitCalls++
	return s.reinitErr
}

func (s *fakeSource) Open(_ context.Context) error {
	s.openCalls++
	return s.openErr
}

func (s *fakeSource) Close(_ context.Context) {
	s.closeCalls++
}

func (s *fakeSource) Kind() camera.Kind {
	return camera.KindV4L2
}

// fakeRecognizer はフレームの有無だけで観測を返すテスト用認識器
type fakeRecognizer struct {
	obs presence.Observation
}

func (r *fakeRecognizer) Recognize(frame []byte, _ map[string]recognition.Encoding) presence.Observation {
	if frame == nil {
		return presence.NoFace()
	}
	return r.obs
}

// recordingPublisher は発行されたスナップショットを記録する
type recordingPublisher struct {
	published []status.Snapshot
}

func (p *recordingPublisher) Publish(snapshot status.Snapshot) error {
	p.published = append(p.published, snapshot)
	return nil
}

func testConfig() Config {
	return Config{
		AwakeInterval:    time.Second,
		SleepInterval:    500 * time.Millisecond,
		AwakeRetries:     2,
		SleepRetries:     3,
		FailureThreshold: 5,
		RecoveryWait:     time.Millisecond,
		SleepTimeout:     5 * time.Minute,
	}
}

func okFrame() captureResult {
	return captureResult{frame: []byte{0xFF, 0xD8, 0xFF, 0xD9}}
}

func failedCapture() captureResult {
	return captureResult{err: errors.New("カメラ停止")}
}

// newTestWatcher はフェイク時計を注入したWatcherを組み立てる
func newTestWatcher(source *fakeSource, obs presence.Observation, config Config) (*Watcher, *recordingPublisher, *fakeClock) {
	clock := &fakeClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	publisher := &recordingPublisher{}
	machine := presence.NewMachine(presence.Config{
		SleepTimeout:     config.SleepTimeout,
		HoldTime:         15 * time.Second,
		WakeConfirmation: 5 * time.Second,
		SleepLogInterval: 30 * time.Second,
	}, clock.current)

	w := New(source, &fakeRecognizer{obs: obs}, machine, publisher,
		map[string]recognition.Encoding{"Tony": {}}, []string{"Tony"}, config)
	w.now = clock.Now
	return w, publisher, clock
}

type fakeClock struct {
	current time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.current
}

func (c *fakeClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func TestWatcher_PublishesRecognizedUser(t *testing.T) {
	source := &fakeSource{frames: []captureResult{okFrame()}}
	w, publisher, _ := newTestWatcher(source, presence.KnownFace("Tony"), testConfig())

	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	if len(publisher.published) != 1 {
		t.Fatalf("発行は1回のはず, got %d", len(publisher.published))
	}
	got := publisher.published[0]
	if got.User == nil || *got.User != "Tony" {
		t.Errorf("user が一致しない: %+v", got.User)
	}
	if !got.IsKnown {
		t.Error("既知ユーザーとして発行されるはず")
	}
	if got.CameraType != "v4l2" {
		t.Errorf("cameraType = %q, want v4l2", got.CameraType)
	}
	if got.SessionID == "" {
		t.Error("sessionId が設定されていない")
	}
}

func TestWatcher_GuestUserWhenUnrecognized(t *testing.T) {
	source := &fakeSource{frames: []captureResult{okFrame()}}
	w, publisher, _ := newTestWatcher(source, presence.Guest(), testConfig())

	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	got := publisher.published[0]
	if got.User == nil || *got.User != presence.GuestName {
		t.Errorf("未認識時の user は Guest のはず: %+v", got.User)
	}
	if got.IsKnown {
		t.Error("ゲストは isKnown=false のはず")
	}
}

func TestWatcher_NullUserWhileSleeping(t *testing.T) {
	config := testConfig()
	source := &fakeSource{frames: []captureResult{okFrame()}}
	w, publisher, clock := newTestWatcher(source, presence.NoFace(), config)

	// タイムアウト経過でスリープ入りし、user は null になる
	clock.Advance(config.SleepTimeout)
	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}

	got := publisher.published[len(publisher.published)-1]
	if !got.Sleeping {
		t.Fatal("スリープ状態で発行されるはず")
	}
	if got.User != nil {
		t.Errorf("スリープ中の user は null のはず: %v", *got.User)
	}
	if got.IsKnown {
		t.Error("スリープ中は isKnown=false のはず")
	}
}

func TestWatcher_RetriesIncreaseWhileSleeping(t *testing.T) {
	config := testConfig()
	source := &fakeSource{frames: []captureResult{okFrame()}}
	w, _, clock := newTestWatcher(source, presence.NoFace(), config)

	// 起床中は少なめの再試行
	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if source.captureCalls[0] != config.AwakeRetries {
		t.Errorf("起床中の retries = %d, want %d", source.captureCalls[0], config.AwakeRetries)
	}

	// スリープ入り後は起床検出を優先して多めの再試行
	clock.Advance(config.SleepTimeout)
	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	clock.Advance(time.Second)
	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	last := source.captureCalls[len(source.captureCalls)-1]
	if last != config.SleepRetries {
		t.Errorf("スリープ中の retries = %d, want %d", last, config.SleepRetries)
	}
}

func TestWatcher_ReinitializeAfterConsecutiveFailures(t *testing.T) {
	config := testConfig()
	source := &fakeSource{frames: []captureResult{failedCapture()}}
	w, _, clock := newTestWatcher(source, presence.NoFace(), config)

	// しきい値未満では再初期化しない
	for i := 0; i < config.FailureThreshold-1; i++ {
		if err := w.Tick(context.Background()); err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
		clock.Advance(time.Second)
	}
	if source.reinitCalls != 0 {
		t.Fatalf("しきい値未満で再初期化された: %d", source.reinitCalls)
	}

	// しきい値到達で1回だけ発動する
	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if source.reinitCalls != 1 {
		t.Errorf("再初期化は1回のはず, got %d", source.reinitCalls)
	}

	// カウンターはリセットされ、次の発動まで再びしきい値分かかる
	clock.Advance(time.Second)
	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if source.reinitCalls != 1 {
		t.Errorf("リセット直後に再発動している: %d", source.reinitCalls)
	}
}

func TestWatcher_FailureCounterResetsOnSuccess(t *testing.T) {
	config := testConfig()
	source := &fakeSource{frames: []captureResult{
		failedCapture(), failedCapture(), failedCapture(), failedCapture(),
		okFrame(),
		failedCapture(),
	}}
	w, _, clock := newTestWatcher(source, presence.Guest(), config)

	for i := 0; i < 6; i++ {
		if err := w.Tick(context.Background()); err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
		clock.Advance(time.Second)
	}

	// 4連続失敗 → 成功でリセット → 1失敗。しきい値には届かない
	if source.reinitCalls != 0 {
		t.Errorf("成功でカウンターがリセットされるはず, reinit %d 回", source.reinitCalls)
	}
}

func TestWatcher_RecoveryRetryAfterReinitFailure(t *testing.T) {
	config := testConfig()
	source := &fakeSource{
		frames:    []captureResult{failedCapture()},
		reinitErr: errors.New("再初期化失敗"),
	}
	w, _, clock := newTestWatcher(source, presence.NoFace(), config)

	for i := 0; i < config.FailureThreshold; i++ {
		if err := w.Tick(context.Background()); err != nil {
			t.Fatalf("Tick failed: %v", err)
		}
		clock.Advance(time.Second)
	}

	// 再初期化が失敗すると待機後に Open をもう一度だけ試す
	if source.reinitCalls != 1 {
		t.Errorf("reinit は1回のはず, got %d", source.reinitCalls)
	}
	if source.openCalls != 1 {
		t.Errorf("復旧の Open は1回のはず, got %d", source.openCalls)
	}
}

func TestWatcher_FatalWhenRecoveryExhausted(t *testing.T) {
	config := testConfig()
	source := &fakeSource{
		frames:    []captureResult{failedCapture()},
		reinitErr: errors.New("再初期化失敗"),
		openErr:   errors.New("デバイスが見つからない"),
	}
	w, _, clock := newTestWatcher(source, presence.NoFace(), config)

	var fatal error
	for i := 0; i < config.FailureThreshold; i++ {
		fatal = w.Tick(context.Background())
		if fatal != nil {
			break
		}
		clock.Advance(time.Second)
	}

	if fatal == nil {
		t.Fatal("復旧不能ならエラーが返るはず")
	}
}

func TestWatcher_RunClosesSourceOnCancel(t *testing.T) {
	source := &fakeSource{frames: []captureResult{okFrame()}}
	w, _, _ := newTestWatcher(source, presence.Guest(), testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.Run(ctx); err != nil {
		t.Fatalf("キャンセルは正常終了のはず: %v", err)
	}
	if source.closeCalls != 1 {
		t.Errorf("終了時にカメラが解放されるはず, close %d 回", source.closeCalls)
	}
}

func TestWatcher_RunPublishesInitialStatus(t *testing.T) {
	source := &fakeSource{frames: []captureResult{okFrame()}}
	w, publisher, _ := newTestWatcher(source, presence.Guest(), testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// 起動直後に初期状態が1回発行される
	if len(publisher.published) != 1 {
		t.Fatalf("初期発行は1回のはず, got %d", len(publisher.published))
	}
	got := publisher.published[0]
	if got.User == nil || *got.User != presence.GuestName {
		t.Errorf("初期状態はゲストのはず: %+v", got.User)
	}
	if got.ProfileCount != 1 {
		t.Errorf("profileCount = %d, want 1", got.ProfileCount)
	}
}

func TestWatcher_IntervalFollowsSleepState(t *testing.T) {
	config := testConfig()
	source := &fakeSource{frames: []captureResult{okFrame()}}
	w, _, clock := newTestWatcher(source, presence.NoFace(), config)

	if w.interval() != config.AwakeInterval {
		t.Errorf("起床中の間隔 = %v, want %v", w.interval(), config.AwakeInterval)
	}

	clock.Advance(config.SleepTimeout)
	if err := w.Tick(context.Background()); err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if w.interval() != config.SleepInterval {
		t.Errorf("スリープ中の間隔 = %v, want %v", w.interval(), config.SleepInterval)
	}
}
