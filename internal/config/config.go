package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server      ServerConfig      `envPrefix:"SERVER_"`
	Camera      CameraConfig      `envPrefix:"CAMERA_"`
	Recognition RecognitionConfig `envPrefix:"RECOGNITION_"`
	Presence    PresenceConfig    `envPrefix:"PRESENCE_"`
	Status      StatusConfig      `envPrefix:"STATUS_"`
}

// ServerConfig はHTTPステータスサーバーの設定
type ServerConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"true"` // HTTPサーバーを起動するか
	Host    string `env:"HOST" envDefault:"0.0.0.0"` // リッスンするホスト
	Port    int    `env:"PORT" envDefault:"8390"`    // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"` // 書き込みタイムアウト
}

// CameraConfig はカメラ取得レイヤーの設定
type CameraConfig struct {
	Device string `env:"DEVICE"` // V4L2デバイスパス（空なら自動検出）

	// 全バックエンド共通のフレーム正規化設定
	Width     int `env:"WIDTH" envDefault:"320"`    // 画像幅
	Height    int `env:"HEIGHT" envDefault:"240"`   // 画像高さ
	FrameRate int `env:"FRAME_RATE" envDefault:"2"` // ストリーミングバックエンドのフレームレート

	CaptureTimeout   time.Duration `env:"CAPTURE_TIMEOUT" envDefault:"10s"` // 1回のキャプチャの上限時間
	RetryPause       time.Duration `env:"RETRY_PAUSE" envDefault:"100ms"`   // キャプチャ再試行間の待機
	SettleWait       time.Duration `env:"SETTLE_WAIT" envDefault:"1s"`      // 再初期化前のデバイス安定待ち
	FailureThreshold int           `env:"FAILURE_THRESHOLD" envDefault:"5"` // 再初期化を発動する連続失敗回数
	RecoveryWait     time.Duration `env:"RECOVERY_WAIT" envDefault:"10s"`   // 復旧失敗後の再試行までの待機
}

// RecognitionConfig は顔認識の設定
type RecognitionConfig struct {
	ModelsDir  string  `env:"MODELS_DIR" envDefault:"models"`  // dlibモデルファイルのディレクトリ
	ProfileDir string  `env:"PROFILE_DIR" envDefault:"public"` // プロフィール画像のディレクトリ
	Tolerance  float64 `env:"TOLERANCE" envDefault:"0.6"`      // 照合距離の許容値（小さいほど厳格）
}

// PresenceConfig は在席ステートマシンの設定
type PresenceConfig struct {
	SleepTimeout     time.Duration `env:"SLEEP_TIMEOUT" envDefault:"5m"`       // 顔が見えなくなってからスリープまでの時間
	HoldTime         time.Duration `env:"HOLD_TIME" envDefault:"15s"`          // 認識結果を保持する時間（ちらつき防止）
	WakeConfirmation time.Duration `env:"WAKE_CONFIRMATION" envDefault:"5s"`   // 起床後に毎ティック発行する確認期間
	SleepLogInterval time.Duration `env:"SLEEP_LOG_INTERVAL" envDefault:"30s"` // スリープ中の生存ログ間隔

	// ティック間隔（スリープ中は起床遅延を抑えるため短くする）
	AwakeInterval time.Duration `env:"AWAKE_INTERVAL" envDefault:"1s"`
	SleepInterval time.Duration `env:"SLEEP_INTERVAL" envDefault:"500ms"`
}

// StatusConfig はステータス公開の設定
type StatusConfig struct {
	File string `env:"FILE" envDefault:"status.json"` // ステータスファイルのパス
}

// Load は環境変数から設定を読み込む
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("環境変数の解析に失敗: %w", err)
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	// カメラ設定の検証
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("無効な解像度: %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.FrameRate <= 0 || c.Camera.FrameRate > 60 {
		return fmt.Errorf("無効なフレームレート: %d", c.Camera.FrameRate)
	}
	if c.Camera.FailureThreshold < 1 {
		return fmt.Errorf("無効な連続失敗しきい値: %d", c.Camera.FailureThreshold)
	}

	// 認識設定の検証
	if c.Recognition.Tolerance <= 0 || c.Recognition.Tolerance > 1 {
		return fmt.Errorf("無効な許容値: %f", c.Recognition.Tolerance)
	}

	// 在席設定の検証
	if c.Presence.SleepTimeout <= 0 {
		return fmt.Errorf("無効なスリープタイムアウト: %v", c.Presence.SleepTimeout)
	}
	if c.Presence.AwakeInterval <= 0 || c.Presence.SleepInterval <= 0 {
		return fmt.Errorf("無効なティック間隔: awake=%v sleep=%v", c.Presence.AwakeInterval, c.Presence.SleepInterval)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
