package camera

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"
)

// videoDevicePattern はV4L2デバイスパスの形式
var videoDevicePattern = regexp.MustCompile(`^/dev/video(\d+)$`)

// V4L2Backend は ffmpeg 経由でV4L2デバイスから取得する汎用バックエンド
// Raspberry Pi 以外のホストやUSBカメラのフォールバックとして使う
type V4L2Backend struct {
	settings Settings
	device   string // 解決済みデバイスパス
}

// NewV4L2Backend は新しいV4L2Backendを作成する
// Settings.Device が空の場合は Open 時に /dev/video* から自動検出する
func NewV4L2Backend(settings Settings) *V4L2Backend {
	return &V4L2Backend{settings: settings}
}

// Kind はバックエンド種別を返す
func (b *V4L2Backend) Kind() Kind {
	return KindV4L2
}

// Available は ffmpeg と利用可能なデバイスがあるかチェックする
func (b *V4L2Backend) Available(ctx context.Context) bool {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return false
	}
	_, err := b.resolveDevice(ctx)
	return err == nil
}

// Open はデバイスを解決し、テストキャプチャで動作を確認する
func (b *V4L2Backend) Open(ctx context.Context) error {
	device, err := b.resolveDevice(ctx)
	if err != nil {
		return err
	}
	b.device = device

	if _, err := b.Capture(ctx); err != nil {
		return fmt.Errorf("V4L2デバイス %s のテストキャプチャに失敗: %w", device, err)
	}
	return nil
}

// Capture は ffmpeg で1フレームをJPEGとして取得する
func (b *V4L2Backend) Capture(ctx context.Context) ([]byte, error) {
	if b.device == "" {
		return nil, fmt.Errorf("V4L2デバイスが解決されていません")
	}

	timeout := b.settings.CaptureTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	captureCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(captureCtx,
		"ffmpeg",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", b.settings.Width, b.settings.Height),
		"-i", b.device,
		"-vframes", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"-q:v", "2",
		"-",
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("JPEGフレームキャプチャに失敗: %w (stderr: %s)", err, stderr.String())
	}

	frame := stdout.Bytes()
	if !isJPEG(frame) {
		return nil, fmt.Errorf("ffmpeg の出力がJPEGではありません (%d bytes)", len(frame))
	}

	return frame, nil
}

// TeardownSteps はこのバックエンドに適用される解放手順を返す
// ワンショット実行のため解決済みデバイスを忘れる release のみ
func (b *V4L2Backend) TeardownSteps() []TeardownStep {
	return []TeardownStep{
		{Name: "release", Run: func(_ context.Context) error {
			b.device = ""
			return nil
		}},
	}
}

// resolveDevice は使用するデバイスパスを決定する
// 設定で明示されていればそれを、なければスキャンして最初の候補を使う
func (b *V4L2Backend) resolveDevice(ctx context.Context) (string, error) {
	if b.settings.Device != "" {
		if !isDeviceOpenable(b.settings.Device) {
			return "", fmt.Errorf("デバイスが利用できません: %s", b.settings.Device)
		}
		return b.settings.Device, nil
	}

	devices, err := scanVideoDevices(ctx)
	if err != nil {
		return "", err
	}
	if len(devices) == 0 {
		return "", fmt.Errorf("利用可能なV4L2デバイスが見つかりません")
	}
	return devices[0], nil
}

// scanVideoDevices はシステム内の利用可能なカメラデバイスをスキャンする
// デバイス番号順にソートして返す
func scanVideoDevices(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []string
	for _, match := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if videoDevicePattern.MatchString(match) && isDeviceOpenable(match) {
			devices = append(devices, match)
		}
	}

	return devices, nil
}

// isDeviceOpenable はデバイスファイルが存在し読み取り可能かチェックする
func isDeviceOpenable(device string) bool {
	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}

// extractDeviceNumber はデバイスパスから番号を取り出す
func extractDeviceNumber(device string) int {
	match := videoDevicePattern.FindStringSubmatch(device)
	if match == nil {
		return -1
	}
	num, err := strconv.Atoi(match[1])
	if err != nil {
		return -1
	}
	return num
}
