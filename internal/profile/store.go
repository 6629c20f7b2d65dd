// Package profile は既知ユーザーのプロフィール画像を読み込む。
// 画像は <名前>-id.png のような命名規則でディレクトリに置かれ、
// 起動時に一度だけスキャンされてエンコーディングに変換される。
package profile

import (
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"kagamiban/internal/recognition"
)

// profilePattern はプロフィール画像のファイル名規則
// 例: Tony-id.png → プロフィール名 "Tony"
var profilePattern = regexp.MustCompile(`^(.+)-id\.(?i:png|jpe?g)$`)

// Load はディレクトリからプロフィールを読み込み、名前→エンコーディングの
// マップを返す。ディレクトリが存在しない場合は空マップを返して続行する
// （ゲスト専用モードは正常な運用形態であり、起動失敗ではない）
func Load(dir string, engine recognition.Engine) map[string]recognition.Encoding {
	profiles := make(map[string]recognition.Encoding)

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Printf("プロフィールディレクトリを読み込めません (%s): %v — ゲスト専用モードで続行", dir, err)
		return profiles
	}

	// os.ReadDir はファイル名順にソート済みなので、同名プロフィールの
	// 上書きは決定的（辞書順で後のファイルが勝つ）
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		match := profilePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		name := match[1]

		log.Printf("プロフィールを読み込み中: %s", name)
		encodings, err := engine.FileEncodings(filepath.Join(dir, entry.Name()))
		if err != nil {
			// 読み込めない画像はスキップし、他のプロフィールは読み込む
			log.Printf("プロフィール %s の読み込みに失敗: %v", entry.Name(), err)
			continue
		}
		if len(encodings) == 0 {
			log.Printf("画像に顔が見つかりません: %s", entry.Name())
			continue
		}

		if _, exists := profiles[name]; exists {
			log.Printf("プロフィール名が重複しています: %s（後のファイルで上書き）", name)
		}

		// 複数の顔が写っている場合は最初のエンコーディングを使う
		profiles[name] = encodings[0]
		log.Printf("プロフィールを登録: %s", name)
	}

	return profiles
}

// Names はプロフィール名のソート済み一覧を返す
func Names(profiles map[string]recognition.Encoding) []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
