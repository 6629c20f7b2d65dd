package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"kagamiban/internal/config"
	"kagamiban/internal/status"
)

// testConfig はテスト用の設定を作成する
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Enabled:      true,
			Host:         "127.0.0.1",
			Port:         0, // ランダムポートを使用
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
	}
}

// TestServerStartAndShutdown はサーバーの起動とシャットダウンをテストする
func TestServerStartAndShutdown(t *testing.T) {
	srv := New(testConfig(), status.NewBoard())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// サーバーを別ゴルーチンで起動
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// サーバーが起動するまで少し待つ
	time.Sleep(100 * time.Millisecond)

	// コンテキストをキャンセルしてサーバーを停止
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("サーバーの起動/停止でエラーが発生しました: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}
}

// TestServerEndpoints は各エンドポイントの応答をテストする
func TestServerEndpoints(t *testing.T) {
	board := status.NewBoard()
	user := "Tony"
	if err := board.Publish(status.Snapshot{
		User:         &user,
		IsKnown:      true,
		ProfileCount: 1,
		ProfileNames: []string{"Tony"},
		CameraType:   "v4l2",
	}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	srv := New(testConfig(), board)

	testCases := []struct {
		name           string
		endpoint       string
		expectedStatus int
	}{
		{"ルートエンドポイント", "/", http.StatusOK},
		{"ヘルスチェックエンドポイント", "/health", http.StatusOK},
		{"ステータスエンドポイント", "/api/status", http.StatusOK},
		{"存在しないエンドポイント", "/api/nope", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			request := httptest.NewRequest(http.MethodGet, tc.endpoint, nil)
			srv.engine.ServeHTTP(recorder, request)

			if recorder.Code != tc.expectedStatus {
				t.Errorf("予期しないステータスコード: got %d, want %d",
					recorder.Code, tc.expectedStatus)
			}
		})
	}
}

// TestGetStatus_ReturnsLatestSnapshot はステータスAPIの内容をテストする
func TestGetStatus_ReturnsLatestSnapshot(t *testing.T) {
	board := status.NewBoard()
	user := "Sarah"
	if err := board.Publish(status.Snapshot{
		User:         &user,
		IsKnown:      true,
		ProfileCount: 2,
		ProfileNames: []string{"Sarah", "Tony"},
		CameraType:   "libcamera",
		SessionID:    "test-session",
	}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	srv := New(testConfig(), board)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	srv.engine.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("予期しないステータスコード: %d", recorder.Code)
	}

	var got status.Snapshot
	if err := json.Unmarshal(recorder.Body.Bytes(), &got); err != nil {
		t.Fatalf("レスポンスがJSONとして解析できない: %v", err)
	}
	if got.User == nil || *got.User != "Sarah" {
		t.Errorf("user が一致しない: %+v", got.User)
	}
	if got.CameraType != "libcamera" {
		t.Errorf("cameraType = %q, want libcamera", got.CameraType)
	}
	if got.SessionID != "test-session" {
		t.Errorf("sessionId = %q, want test-session", got.SessionID)
	}
}

// TestGetStatus_NotReady は未発行時の応答をテストする
func TestGetStatus_NotReady(t *testing.T) {
	srv := New(testConfig(), status.NewBoard())

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	srv.engine.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("未発行時は503のはず: got %d", recorder.Code)
	}

	var got errorResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &got); err != nil {
		t.Fatalf("エラーレスポンスが解析できない: %v", err)
	}
	if got.Error != "status_not_ready" {
		t.Errorf("error = %q, want status_not_ready", got.Error)
	}
}
