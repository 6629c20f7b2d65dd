// Package main はKagamibanステータスサーバー単体のコマンド実装です
//
// 検出ループを動かさず、既存のステータスファイルを配信するだけの
// 軽量モード。検出デーモンを別ホストで動かす構成で使う
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kagamiban/internal/config"
	"kagamiban/internal/server"
	"kagamiban/internal/status"
)

func main() {
	// コマンドラインオプション
	var (
		host     = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port     = flag.Int("port", 0, "サーバーのポート (デフォルト: 8390)")
		file     = flag.String("file", "", "配信するステータスファイル (デフォルト: status.json)")
		interval = flag.Duration("interval", time.Second, "ステータスファイルの再読み込み間隔")
		help     = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("Kagamiban ステータスサーバー")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *file != "" {
		cfg.Status.File = *file
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ステータスファイルを定期的にBoardへ読み込む
	board := status.NewBoard()
	go reloadLoop(ctx, cfg.Status.File, *interval, board)

	// サーバーを起動
	log.Printf("Kagamiban ステータスサーバーを起動します: %s", cfg.ServerAddress())
	srv := server.New(cfg, board)
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("サーバーの起動に失敗しました: %v", err)
	}
}

// reloadLoop はステータスファイルを定期的に読み直してBoardへ反映する
// ファイルがまだ無い・壊れている場合は前回値を保持する
func reloadLoop(ctx context.Context, path string, interval time.Duration, board *status.Board) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if snapshot, err := readSnapshot(path); err == nil {
			if err := board.Publish(*snapshot); err != nil {
				log.Printf("ステータスの反映に失敗: %v", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// readSnapshot はステータスファイルを読み込んで解析する
func readSnapshot(path string) (*status.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var snapshot status.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("ステータスファイルの解析に失敗: %w", err)
	}
	return &snapshot, nil
}
