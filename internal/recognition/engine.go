// Package recognition は外部顔認識ライブラリとの境界を提供する。
// 検出・エンコード・照合のアルゴリズム自体は dlib (go-face) に委譲し、
// 本体のコードとテストが cgo に触れずに済むよう Engine で抽象化する。
package recognition

import (
	"fmt"
	"math"

	"github.com/Kagami/go-face"
)

// Encoding は顔の特徴ベクトル（128次元）
type Encoding [128]float32

// Engine は顔の検出とエンコードを行う外部能力のインターフェース
type Engine interface {
	// Encodings はJPEG画像内の全ての顔のエンコーディングを返す
	// 顔がなければ空スライスを返す（エラーではない）
	Encodings(jpegData []byte) ([]Encoding, error)

	// FileEncodings は画像ファイル内の全ての顔のエンコーディングを返す
	FileEncodings(path string) ([]Encoding, error)

	// Close はエンジンのリソースを解放する
	Close()
}

// dlibEngine は go-face による Engine 実装
type dlibEngine struct {
	rec *face.Recognizer
}

// NewDlibEngine はdlibモデルディレクトリからエンジンを初期化する
func NewDlibEngine(modelsDir string) (Engine, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("顔認識エンジンの初期化に失敗 (モデル: %s): %w", modelsDir, err)
	}
	return &dlibEngine{rec: rec}, nil
}

// Encodings はJPEG画像から顔エンコーディングを抽出する
func (e *dlibEngine) Encodings(jpegData []byte) ([]Encoding, error) {
	faces, err := e.rec.Recognize(jpegData)
	if err != nil {
		return nil, fmt.Errorf("顔の検出に失敗: %w", err)
	}
	return toEncodings(faces), nil
}

// FileEncodings は画像ファイルから顔エンコーディングを抽出する
func (e *dlibEngine) FileEncodings(path string) ([]Encoding, error) {
	faces, err := e.rec.RecognizeFile(path)
	if err != nil {
		return nil, fmt.Errorf("画像ファイルの認識に失敗 (%s): %w", path, err)
	}
	return toEncodings(faces), nil
}

// Close はdlibのリソースを解放する
func (e *dlibEngine) Close() {
	e.rec.Close()
}

// toEncodings は go-face の結果を Encoding スライスに変換する
func toEncodings(faces []face.Face) []Encoding {
	encodings := make([]Encoding, 0, len(faces))
	for _, f := range faces {
		encodings = append(encodings, Encoding(f.Descriptor))
	}
	return encodings
}

// Distance は2つのエンコーディング間のユークリッド距離を返す
// 同一人物なら概ね 0.6 未満になる
func Distance(a, b Encoding) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
