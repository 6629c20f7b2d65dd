package recognition

import (
	"log"
	"sort"

	"kagamiban/internal/presence"
)

// Adapter は生フレームを在席ステートマシン向けの観測に変換する
// カメラや認識処理のエラーはここで全て吸収され、観測としては
// 「顔なし」に正規化される。上流の失敗をステートマシンに伝播させない
type Adapter struct {
	engine    Engine
	tolerance float64
}

// NewAdapter は新しいAdapterを作成する
func NewAdapter(engine Engine, tolerance float64) *Adapter {
	return &Adapter{
		engine:    engine,
		tolerance: tolerance,
	}
}

// Recognize はフレーム内の顔を既知プロフィールと照合して観測を返す
// フレームが nil の場合（キャプチャ失敗）は顔なしとして扱う
func (a *Adapter) Recognize(frame []byte, profiles map[string]Encoding) presence.Observation {
	if len(frame) == 0 {
		return presence.NoFace()
	}

	encodings, err := a.engine.Encodings(frame)
	if err != nil {
		// 認識エラーはカメラの一時的な不調と同様に扱い、ループを止めない
		log.Printf("顔検出エラー（顔なしとして継続）: %v", err)
		return presence.NoFace()
	}

	if len(encodings) == 0 {
		return presence.NoFace()
	}

	// 検出された全ての顔と全プロフィールを照合し、許容値内で
	// 最も距離が小さい組を採用する（同率は名前順で先のもの）
	// 複数の顔が映っていても報告するのは1人分のみ
	if name, ok := a.closestMatch(encodings, profiles); ok {
		return presence.KnownFace(name)
	}

	// 顔は見えているがどのプロフィールにも一致しない
	return presence.Guest()
}

// closestMatch は許容値内で最も近いプロフィール名を返す
func (a *Adapter) closestMatch(encodings []Encoding, profiles map[string]Encoding) (string, bool) {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	bestName := ""
	bestDistance := a.tolerance
	found := false

	for _, name := range names {
		known := profiles[name]
		for _, enc := range encodings {
			d := Distance(known, enc)
			if d < bestDistance || (!found && d == bestDistance) {
				bestName = name
				bestDistance = d
				found = true
			}
		}
	}

	return bestName, found
}
