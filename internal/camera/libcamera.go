package camera

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// libcameraBinaries は新しい順に試すコマンド名
// Bookworm 以降は rpicam-vid、それ以前の libcamera 世代は libcamera-vid
var libcameraBinaries = []string{"rpicam-vid", "libcamera-vid"}

// LibCameraBackend は Raspberry Pi ネイティブのストリーミングバックエンド
// MJPEGストリームを常時受信し、Capture は最新フレームを返す
type LibCameraBackend struct {
	settings Settings

	// 最新フレーム保持用
	frameMu  sync.RWMutex
	latest   []byte
	latestAt time.Time

	// プロセス制御用
	procMu     sync.Mutex
	binary     string
	cmd        *exec.Cmd
	cancel     context.CancelFunc
	readerDone chan struct{}

	// ストリームが止まったとみなすまでの時間
	staleAfter time.Duration
}

// NewLibCameraBackend は新しいLibCameraBackendを作成する
func NewLibCameraBackend(settings Settings) *LibCameraBackend {
	// フレームレートが低くてもストリーム停止と誤判定しない程度の余裕を持つ
	staleAfter := 3 * time.Second
	if settings.FrameRate > 0 {
		perFrame := time.Second / time.Duration(settings.FrameRate)
		if perFrame*4 > staleAfter {
			staleAfter = perFrame * 4
		}
	}

	return &LibCameraBackend{
		settings:   settings,
		staleAfter: staleAfter,
	}
}

// Kind はバックエンド種別を返す
func (b *LibCameraBackend) Kind() Kind {
	return KindLibCamera
}

// Available は libcamera 系コマンドがインストールされているかチェックする
func (b *LibCameraBackend) Available(_ context.Context) bool {
	return b.lookupBinary() != ""
}

// lookupBinary は利用可能な libcamera コマンド名を返す
func (b *LibCameraBackend) lookupBinary() string {
	for _, name := range libcameraBinaries {
		if _, err := exec.LookPath(name); err == nil {
			return name
		}
	}
	return ""
}

// Open はMJPEGストリーミングプロセスを起動し、最初のフレームを待つ
func (b *LibCameraBackend) Open(ctx context.Context) error {
	b.procMu.Lock()
	defer b.procMu.Unlock()

	if b.cmd != nil {
		return nil // 既に開始済み
	}

	binary := b.lookupBinary()
	if binary == "" {
		return fmt.Errorf("libcamera コマンドが見つかりません")
	}
	b.binary = binary

	// プロセスの寿命はバックエンド自身が管理する（Open の ctx に縛らない）
	streamCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(streamCtx, binary,
		"--timeout", "0",
		"--codec", "mjpeg",
		"--width", strconv.Itoa(b.settings.Width),
		"--height", strconv.Itoa(b.settings.Height),
		"--framerate", strconv.Itoa(b.settings.FrameRate),
		"--nopreview",
		"--output", "-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("%s の起動に失敗: %w", binary, err)
	}

	b.cmd = cmd
	b.cancel = cancel
	b.readerDone = make(chan struct{})

	// MJPEGストリームを読み続け、常に最新フレームだけを保持する
	readerDone := b.readerDone
	go func() {
		defer close(readerDone)
		scanMJPEG(stdout, func(frame []byte) {
			b.frameMu.Lock()
			b.latest = frame
			b.latestAt = time.Now()
			b.frameMu.Unlock()
		})
	}()

	// 最初のフレームが届くまで待つ（届かなければ初期化失敗として解放）
	if err := b.waitFirstFrame(ctx); err != nil {
		b.releaseLocked()
		return err
	}

	return nil
}

// waitFirstFrame は最初のフレーム到着を待つ
func (b *LibCameraBackend) waitFirstFrame(ctx context.Context) error {
	timeout := b.settings.CaptureTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		b.frameMu.RLock()
		got := b.latest != nil
		b.frameMu.RUnlock()
		if got {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	return fmt.Errorf("%s から最初のフレームが届きません", b.binary)
}

// Capture は最新フレームのコピーを返す
// ストリームが止まっている（フレームが古すぎる）場合はエラーを返し、
// 呼び出し側の失敗カウントを経由して再初期化につなげる
func (b *LibCameraBackend) Capture(_ context.Context) ([]byte, error) {
	b.frameMu.RLock()
	defer b.frameMu.RUnlock()

	if b.latest == nil {
		return nil, errors.New("フレームがまだ取得されていません")
	}
	if time.Since(b.latestAt) > b.staleAfter {
		return nil, fmt.Errorf("ストリームが停止しています（最終フレームから %v 経過）", time.Since(b.latestAt).Round(time.Millisecond))
	}

	frame := make([]byte, len(b.latest))
	copy(frame, b.latest)
	return frame, nil
}

// TeardownSteps はストリーミングプロセスの停止とリソース解放を
// 独立した手順として返す
func (b *LibCameraBackend) TeardownSteps() []TeardownStep {
	return []TeardownStep{
		{Name: "stop", Run: b.stop},
		{Name: "close", Run: b.close},
	}
}

// stop はストリーミングプロセスに停止を指示する
func (b *LibCameraBackend) stop(_ context.Context) error {
	b.procMu.Lock()
	defer b.procMu.Unlock()

	if b.cmd == nil {
		return nil // 既に停止済み
	}
	b.cancel()
	return nil
}

// close はプロセスの終了とリーダーゴルーチンの完了を待ち、状態を破棄する
// stop が失敗していてもここで必ずプロセスを回収する
func (b *LibCameraBackend) close(_ context.Context) error {
	b.procMu.Lock()
	defer b.procMu.Unlock()
	return b.releaseLocked()
}

// releaseLocked は procMu 保持下でプロセスと状態を破棄する
func (b *LibCameraBackend) releaseLocked() error {
	if b.cmd == nil {
		return nil
	}

	cmd := b.cmd
	readerDone := b.readerDone
	b.cancel()

	// プロセス終了を待つ。キャンセルによる強制終了は想定内
	err := cmd.Wait()
	<-readerDone

	b.cmd = nil
	b.cancel = nil
	b.readerDone = nil

	b.frameMu.Lock()
	b.latest = nil
	b.latestAt = time.Time{}
	b.frameMu.Unlock()

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s の終了待ちに失敗: %w", b.binary, err)
		}
	}
	return nil
}
