package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"kagamiban/internal/camera"
	"kagamiban/internal/config"
	"kagamiban/internal/presence"
	"kagamiban/internal/profile"
	"kagamiban/internal/recognition"
	"kagamiban/internal/server"
	"kagamiban/internal/status"
	"kagamiban/internal/watcher"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("在席検出デーモンが異常終了しました: %v", err)
	}
}

// run はデーモン全体を組み立てて実行する
func run(cfg *config.Config) error {
	// シグナルでキャンセルされるコンテキストを作成
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 顔認識エンジンを初期化
	engine, err := recognition.NewDlibEngine(cfg.Recognition.ModelsDir)
	if err != nil {
		return err
	}
	defer engine.Close()

	// プロフィール画像を読み込む（空でもゲスト検出のみで継続する）
	profiles := profile.Load(cfg.Recognition.ProfileDir, engine)
	names := profile.Names(profiles)

	// カメラを初期化（優先順位の高いバックエンドから順に試す）
	source := camera.NewSource(camera.DefaultBackends(camera.Settings{
		Device:         cfg.Camera.Device,
		Width:          cfg.Camera.Width,
		Height:         cfg.Camera.Height,
		FrameRate:      cfg.Camera.FrameRate,
		CaptureTimeout: cfg.Camera.CaptureTimeout,
	}), cfg.Camera.RetryPause, cfg.Camera.SettleWait)

	if err := source.Open(ctx); err != nil {
		if errors.Is(err, camera.ErrNoBackend) {
			return errors.New("利用可能なカメラバックエンドがありません")
		}
		return err
	}
	log.Printf("カメラバックエンド: %s", source.Kind())

	// ステータス公開先を組み立てる（ファイル + HTTPサーバー用のメモリ）
	board := status.NewBoard()
	publisher := status.Fanout{
		status.NewFileWriter(cfg.Status.File),
		board,
	}

	// HTTPサーバーを別ゴルーチンで起動（無効化されていれば起動しない）
	if cfg.Server.Enabled {
		srv := server.New(cfg, board)
		go func() {
			if err := srv.Start(ctx); err != nil {
				log.Printf("HTTPサーバーが異常終了しました: %v", err)
			}
		}()
	}

	// 在席ステートマシンと検出ループを組み立てる
	machine := presence.NewMachine(presence.Config{
		SleepTimeout:     cfg.Presence.SleepTimeout,
		HoldTime:         cfg.Presence.HoldTime,
		WakeConfirmation: cfg.Presence.WakeConfirmation,
		SleepLogInterval: cfg.Presence.SleepLogInterval,
	}, time.Now())

	adapter := recognition.NewAdapter(engine, cfg.Recognition.Tolerance)

	w := watcher.New(source, adapter, machine, publisher, profiles, names, watcher.Config{
		AwakeInterval:    cfg.Presence.AwakeInterval,
		SleepInterval:    cfg.Presence.SleepInterval,
		AwakeRetries:     2,
		SleepRetries:     3,
		FailureThreshold: cfg.Camera.FailureThreshold,
		RecoveryWait:     cfg.Camera.RecoveryWait,
		SleepTimeout:     cfg.Presence.SleepTimeout,
	})

	return w.Run(ctx)
}
