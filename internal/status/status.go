// Package status は在席シグナルの公開面を提供する。
// スナップショットは毎ティック全体を作り直して上書きされる。
// 変更通知はなく、消費側が自分の周期で再読み込みする前提の
// last-writer-wins 契約なので、同じ内容を何度発行しても無害である。
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Snapshot は外部に公開する在席ステータス
// フィールド名はフロントエンド (node_helper) が読むJSONキーに合わせている
type Snapshot struct {
	User          *string  `json:"user"`          // 現在のユーザー名（スリープ中は null）
	IsKnown       bool     `json:"isKnown"`       // 既知プロフィールに一致しているか
	Sleeping      bool     `json:"sleeping"`      // スリープ中か
	Timestamp     float64  `json:"timestamp"`     // 発行時刻（UNIX秒）
	TimeSinceFace float64  `json:"timeSinceFace"` // 最後に顔が見えてからの経過秒数
	ProfileCount  int      `json:"profileCount"`  // 読み込み済みプロフィール数
	ProfileNames  []string `json:"profileNames"`  // プロフィール名の一覧
	SleepTimeout  float64  `json:"sleepTimeoutSecs"` // 設定されたスリープタイムアウト（秒）
	CameraType    string   `json:"cameraType"`    // 稼働中のカメラバックエンド名
	SessionID     string   `json:"sessionId"`     // プロセス起動ごとのID（再起動検知用）
}

// Timestamped は発行時刻を設定したコピーを返す
func (s Snapshot) Timestamped(now time.Time) Snapshot {
	s.Timestamp = float64(now.Unix()) + float64(now.Nanosecond())/float64(time.Second)
	return s
}

// Publisher はスナップショットの公開先
type Publisher interface {
	// Publish はスナップショットを公開する
	// 失敗しても呼び出し側のループを止めてはならない（ログして次ティックで回復）
	Publish(snapshot Snapshot) error
}

// FileWriter はスナップショットをJSONファイルとして公開する
// 一時ファイルに書いてからリネームすることで、読み手が書きかけの
// レコードを観測しないようにする
type FileWriter struct {
	path string
}

// NewFileWriter は新しいFileWriterを作成する
func NewFileWriter(path string) *FileWriter {
	return &FileWriter{path: path}
}

// Publish はスナップショットをアトミックにファイルへ書き込む
func (w *FileWriter) Publish(snapshot Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("ステータスのシリアライズに失敗: %w", err)
	}

	dir := filepath.Dir(w.path)
	tmp, err := os.CreateTemp(dir, ".status-*.tmp")
	if err != nil {
		return fmt.Errorf("一時ファイルの作成に失敗: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("一時ファイルへの書き込みに失敗: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("一時ファイルのクローズに失敗: %w", err)
	}

	if err := os.Rename(tmpName, w.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("ステータスファイルの置き換えに失敗: %w", err)
	}

	return nil
}

// Board は最新スナップショットをメモリに保持する公開先
// HTTPサーバーが現在値を返すために使う
type Board struct {
	mu     sync.RWMutex
	latest *Snapshot
}

// NewBoard は新しいBoardを作成する
func NewBoard() *Board {
	return &Board{}
}

// Publish は最新スナップショットを更新する
func (b *Board) Publish(snapshot Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = &snapshot
	return nil
}

// Latest は最新スナップショットを返す。未発行なら nil
func (b *Board) Latest() *Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.latest == nil {
		return nil
	}
	snapshot := *b.latest
	return &snapshot
}

// Fanout は複数の公開先へ順に発行する
// 一部が失敗しても残りの公開先への発行は継続する
type Fanout []Publisher

// Publish は全ての公開先へ発行し、失敗をまとめて返す
func (f Fanout) Publish(snapshot Snapshot) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(snapshot); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
