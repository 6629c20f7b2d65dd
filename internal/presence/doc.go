// Package presence は顔の観測列から安定した在席シグナルを生成する
// ステートマシンを提供する。
//
// カメラと認識処理はノイズが多く、顔が1フレームだけ見えなかったり、
// 既知ユーザーが一瞬ゲストと誤認識されたりする。このパッケージは
// その揺らぎをヒステリシスで吸収し、表示側がちらつかない信号に変換する。
//
//   - スリープ判定: 顔が一定時間見えなければ Asleep へ遷移する
//   - 起床判定: Asleep 中に顔が見えたら即座に Awake へ遷移する
//   - 起床確認期間: 起床直後は毎ティック発行してポーリング漏れを防ぐ
//   - 保持時間: 認識結果の切り替えを一定時間抑制する
//
// Machine は純粋な状態簡約であり、時刻は全て引数で注入される。
// 観測以外の入力（エラー等）は受け取らない。
package presence
