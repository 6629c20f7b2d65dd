package camera

import (
	"context"
	"time"
)

// Kind はカメラバックエンドの種別を表す
type Kind string

const (
	// KindLibCamera は rpicam-vid / libcamera-vid ベースのバックエンド
	KindLibCamera Kind = "libcamera"
	// KindRaspistill は旧世代 raspistill ベースのバックエンド
	KindRaspistill Kind = "raspistill"
	// KindV4L2 は ffmpeg + V4L2 ベースの汎用バックエンド
	KindV4L2 Kind = "v4l2"
)

// Settings は全バックエンド共通のフレーム設定
// 認識処理の負荷を抑えるため解像度は小さくてよい
type Settings struct {
	Width          int           // 画像幅
	Height         int           // 画像高さ
	FrameRate      int           // ストリーミングバックエンドのフレームレート
	Device         string        // V4L2デバイスパス（空なら自動検出）
	CaptureTimeout time.Duration // 1回のキャプチャの上限時間
}

// Backend は個別カメラバックエンドのインターフェース
type Backend interface {
	// Kind はバックエンド種別を返す
	Kind() Kind

	// Available はこのホストでバックエンドが使えるかチェックする
	// コマンド未インストール等は false（エラーではなくスキップ対象）
	Available(ctx context.Context) bool

	// Open はバックエンドを初期化する
	Open(ctx context.Context) error

	// Capture は1フレームをJPEGとして取得する
	Capture(ctx context.Context) ([]byte, error)

	// TeardownSteps はこのバックエンドに適用される解放手順を返す
	// 各手順は独立に実行され、先の手順が失敗しても後の手順は実行される
	TeardownSteps() []TeardownStep
}

// TeardownStep はカメラ解放の1手順
type TeardownStep struct {
	Name string                          // 手順名（ログ用）
	Run  func(ctx context.Context) error // 実行関数
}
