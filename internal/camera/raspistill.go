package camera

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// RaspistillBackend は旧世代 Raspberry Pi OS 向けのワンショットバックエンド
// フレームごとに raspistill を起動するため低速だが、保持するリソースがなく
// 長期運用で最も壊れにくい
type RaspistillBackend struct {
	settings Settings
}

// NewRaspistillBackend は新しいRaspistillBackendを作成する
func NewRaspistillBackend(settings Settings) *RaspistillBackend {
	return &RaspistillBackend{settings: settings}
}

// Kind はバックエンド種別を返す
func (b *RaspistillBackend) Kind() Kind {
	return KindRaspistill
}

// Available は raspistill がインストールされているかチェックする
func (b *RaspistillBackend) Available(_ context.Context) bool {
	_, err := exec.LookPath("raspistill")
	return err == nil
}

// Open はテストキャプチャでカメラの動作を確認する
func (b *RaspistillBackend) Open(ctx context.Context) error {
	if _, err := b.Capture(ctx); err != nil {
		return fmt.Errorf("raspistill のテストキャプチャに失敗: %w", err)
	}
	return nil
}

// Capture は raspistill で1フレームをJPEGとして取得する
func (b *RaspistillBackend) Capture(ctx context.Context) ([]byte, error) {
	timeout := b.settings.CaptureTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	captureCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(captureCtx, "raspistill",
		"--nopreview",
		"--timeout", "200",
		"--width", strconv.Itoa(b.settings.Width),
		"--height", strconv.Itoa(b.settings.Height),
		"--encoding", "jpg",
		"--output", "-",
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("raspistill キャプチャに失敗: %w (stderr: %s)", err, stderr.String())
	}

	frame := stdout.Bytes()
	if !isJPEG(frame) {
		return nil, fmt.Errorf("raspistill の出力がJPEGではありません (%d bytes)", len(frame))
	}

	return frame, nil
}

// TeardownSteps はこのバックエンドに適用される解放手順を返す
// ワンショット実行のため保持するリソースはなく、適用される手順は close のみ
func (b *RaspistillBackend) TeardownSteps() []TeardownStep {
	return []TeardownStep{
		{Name: "close", Run: func(_ context.Context) error { return nil }},
	}
}
