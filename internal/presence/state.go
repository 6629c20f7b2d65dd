package presence

import "time"

// GuestName は未登録の顔に割り当てる表示名
const GuestName = "Guest"

// Observation は1ティック分の観測結果を表す
// 顔が検出されなかった場合はゼロ値（FaceDetected=false）を使う
type Observation struct {
	FaceDetected bool   // 顔が検出されたか
	Name         string // 認識された人物名（未登録の場合は GuestName）
	Known        bool   // 既知のプロフィールに一致したか
}

// NoFace は顔が検出されなかった観測を返す
func NoFace() Observation {
	return Observation{}
}

// Guest は未登録の顔が検出された観測を返す
func Guest() Observation {
	return Observation{FaceDetected: true, Name: GuestName}
}

// KnownFace は既知の顔が検出された観測を返す
func KnownFace(name string) Observation {
	return Observation{FaceDetected: true, Name: name, Known: true}
}

// Config はステートマシンの調整値
type Config struct {
	SleepTimeout     time.Duration // 顔が見えなくなってからスリープまでの時間
	HoldTime         time.Duration // 認識結果を保持する時間
	WakeConfirmation time.Duration // 起床後に毎ティック発行する確認期間
	SleepLogInterval time.Duration // スリープ中の生存ログ間隔
}

// State はステートマシンの現在値
type State struct {
	Sleeping        bool      // スリープ中か
	CurrentUser     string    // 現在の認識結果（未確定なら空）
	Known           bool      // CurrentUser が既知のプロフィールか
	LastFaceSeen    time.Time // 最後に顔が見えた時刻
	LastRecognition time.Time // 最後に認識結果を更新した時刻
	LastWake        time.Time // 最後に起床した時刻
}

// Decision は1回の更新でループが取るべき行動
type Decision struct {
	Publish  bool // ステータスを発行するか
	Wake     bool // スリープからの起床エッジ
	Sleep    bool // スリープ突入エッジ
	LogSleep bool // スリープ中の生存ログを出すタイミング
}

// Machine は在席ステートマシン
// 単一のゴルーチンから Update されることを前提とし、ロックは持たない
type Machine struct {
	config       Config
	state        State
	lastSleepLog time.Time
}

// NewMachine は新しいステートマシンを作成する
// 初期状態は起床中・認識結果なし。LastFaceSeen を現在時刻にすることで、
// 最初のスリープタイムアウトは起動時点から計測される
func NewMachine(config Config, now time.Time) *Machine {
	return &Machine{
		config: config,
		state: State{
			LastFaceSeen: now,
		},
	}
}

// State は現在の状態のコピーを返す
func (m *Machine) State() State {
	return m.state
}

// TimeSinceFace は最後に顔が見えてからの経過時間を返す
func (m *Machine) TimeSinceFace(now time.Time) time.Duration {
	return now.Sub(m.state.LastFaceSeen)
}

// Update は観測を1つ取り込み、状態を更新して行動判断を返す
func (m *Machine) Update(obs Observation, now time.Time) Decision {
	if obs.FaceDetected {
		return m.updateFace(obs, now)
	}
	return m.updateNoFace(now)
}

// updateFace は顔が検出されたときの遷移を処理する
func (m *Machine) updateFace(obs Observation, now time.Time) Decision {
	m.state.LastFaceSeen = now

	switch {
	case m.state.Sleeping:
		// 起床。表示側の遅延が最も目立つエッジなので必ず即時発行する
		m.state.Sleeping = false
		m.state.CurrentUser = obs.Name
		m.state.Known = obs.Known
		m.state.LastRecognition = now
		m.state.LastWake = now
		return Decision{Publish: true, Wake: true}

	case now.Sub(m.state.LastWake) < m.config.WakeConfirmation:
		// 起床確認期間中は、ポーリング側が起床エッジを取りこぼさないよう
		// 認識結果が変わらなくても毎ティック発行する
		if obs.Name != m.state.CurrentUser {
			m.state.CurrentUser = obs.Name
			m.state.Known = obs.Known
			m.state.LastRecognition = now
		}
		return Decision{Publish: true}

	case m.state.Known && !obs.Known && now.Sub(m.state.LastRecognition) <= m.config.HoldTime:
		// 既知ユーザーからゲストへの降格は1フレームの誤認識であることが
		// 多いため、保持時間が経過するまで現在の認識結果を維持する
		return Decision{}

	case obs.Name != m.state.CurrentUser || now.Sub(m.state.LastRecognition) > m.config.HoldTime:
		// 通常運転。認識結果が変わったか、保持時間が経過した場合のみ更新する
		m.state.CurrentUser = obs.Name
		m.state.Known = obs.Known
		m.state.LastRecognition = now
		return Decision{Publish: true}
	}

	// 保持時間内の同一認識。発行不要
	return Decision{}
}

// updateNoFace は顔が検出されなかったときの遷移を処理する
func (m *Machine) updateNoFace(now time.Time) Decision {
	d := Decision{Publish: true}

	if !m.state.Sleeping && now.Sub(m.state.LastFaceSeen) >= m.config.SleepTimeout {
		// スリープ突入。認識結果はクリアする
		m.state.Sleeping = true
		m.state.CurrentUser = ""
		m.state.Known = false
		d.Sleep = true
	}

	if m.state.Sleeping && now.Sub(m.lastSleepLog) >= m.config.SleepLogInterval {
		m.lastSleepLog = now
		d.LogSleep = true
	}

	return d
}
