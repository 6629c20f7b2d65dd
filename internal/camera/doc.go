// Package camera は複数のカメラバックエンドを統一インターフェースで
// 扱うフレーム取得レイヤーを提供する。
//
// バックエンドは優先順に試行され、最初に初期化できたものが採用される:
//
//  1. libcamera  — Raspberry Pi ネイティブ (rpicam-vid / libcamera-vid)
//  2. raspistill — 旧世代 Raspberry Pi OS
//  3. v4l2       — USBカメラ等の汎用デバイス (ffmpeg 経由)
//
// どのバックエンドでもフレームは同一解像度のJPEGに正規化されるため、
// 呼び出し側はどのバックエンドが動いているかを意識しなくてよい。
//
// 民生用カメラは24時間運用でしばしば応答しなくなる。Source は
// 取得失敗の再試行と、全テアダウン手順を個別に実行してからの
// 再初期化による復旧を担う。連続失敗のカウントと再初期化の発動は
// 呼び出し側（watcher）の責務。
package camera
