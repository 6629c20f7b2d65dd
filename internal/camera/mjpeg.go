package camera

import (
	"bytes"
	"io"
)

// JPEGのフレーム境界マーカー
var (
	jpegStart = []byte{0xFF, 0xD8}
	jpegEnd   = []byte{0xFF, 0xD9}
)

// isJPEG はデータがJPEG画像として始まっているかチェックする
func isJPEG(data []byte) bool {
	return bytes.HasPrefix(data, jpegStart)
}

// scanMJPEG はMJPEGストリームからJPEGフレームを切り出し、
// 1フレームごとに emit を呼ぶ。リーダーが閉じられるかエラーに
// なった時点で終了する
func scanMJPEG(r io.Reader, emit func(frame []byte)) {
	buffer := make([]byte, 64*1024)
	frameBuffer := bytes.Buffer{}

	for {
		n, err := r.Read(buffer)
		if n > 0 {
			frameBuffer.Write(buffer[:n])
			extractFrames(&frameBuffer, emit)
		}
		if err != nil {
			return
		}
	}
}

// extractFrames はバッファから完全なJPEGフレームを取り出す
func extractFrames(frameBuffer *bytes.Buffer, emit func(frame []byte)) {
	data := frameBuffer.Bytes()

	for {
		// JPEGの開始マーカー（FF D8）を探す
		startIdx := bytes.Index(data, jpegStart)
		if startIdx == -1 {
			// フレームの先頭がまだ来ていない
			// マーカーが読み込み境界で分断されている可能性があるため
			// 末尾の 0xFF だけ残して先行データを捨てる
			if len(data) > 0 && data[len(data)-1] == 0xFF {
				frameBuffer.Reset()
				frameBuffer.WriteByte(0xFF)
			} else {
				frameBuffer.Reset()
			}
			return
		}

		// JPEGの終了マーカー（FF D9）を探す
		endIdx := bytes.Index(data[startIdx+2:], jpegEnd)
		if endIdx == -1 {
			// 完全なフレームがまだない。先頭より前のゴミだけ捨てる
			if startIdx > 0 {
				remaining := make([]byte, len(data)-startIdx)
				copy(remaining, data[startIdx:])
				frameBuffer.Reset()
				frameBuffer.Write(remaining)
			}
			return
		}

		// 完全なJPEGフレームを抽出（マーカーのサイズを含める）
		endIdx += startIdx + 2 + 2
		frame := make([]byte, endIdx-startIdx)
		copy(frame, data[startIdx:endIdx])
		emit(frame)

		// 処理済みデータを削除
		remaining := make([]byte, len(data)-endIdx)
		copy(remaining, data[endIdx:])
		frameBuffer.Reset()
		frameBuffer.Write(remaining)
		data = frameBuffer.Bytes()

		if len(data) == 0 {
			return
		}
	}
}
