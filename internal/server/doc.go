// Package server は、在席ステータスを配信するHTTPサーバーを管理します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// ステータスAPIと確認用ページの配信を担当します。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - 最新の在席スナップショットのJSON配信
//   - 確認用ページ（HTML）の配信
//   - グレースフルシャットダウン
//
// 仕様:
//   - ルーティングはgin-gonic/ginを使用
//   - ステータスの実体は status.Board が保持し、このパッケージは読むだけ
//   - 検出ループとは独立したゴルーチンで動作する
package server
