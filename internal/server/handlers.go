package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kagamiban/internal/config"
	"kagamiban/internal/status"
)

// Handler は各エンドポイントの実装を持つ
type Handler struct {
	config *config.Config
	board  *status.Board
}

// healthResponse はヘルスチェックのレスポンス
type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// errorResponse はエラーレスポンスの共通形式
type errorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// setupRoutes はHTTPルートを設定する
func (h *Handler) setupRoutes(engine *gin.Engine) {
	// ヘルスチェックエンドポイント
	engine.GET("/health", h.HealthCheck)

	// APIエンドポイント
	engine.GET("/api/status", h.GetStatus)

	// ルートハンドラ（簡単な確認用）
	engine.GET("/", h.Root)
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// GetStatus は最新の在席スナップショットを返す
// 検出ループがまだ一度も発行していない場合は 503 を返す
func (h *Handler) GetStatus(c *gin.Context) {
	latest := h.board.Latest()
	if latest == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{
			Error:     "status_not_ready",
			Message:   "在席ステータスがまだ発行されていません",
			Timestamp: time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, latest)
}

// Root はルートパスのハンドラ
func (h *Handler) Root(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, `<!DOCTYPE html>
<html lang="ja">
<head>
    <meta charset="UTF-8">
    <title>Kagamiban - 在席検出システム</title>
</head>
<body>
    <h1>Kagamiban 在席検出システム</h1>
    <p>サーバーが正常に起動しています。</p>
    <p>ステータス: <a href="/api/status">/api/status</a></p>
    <p>ヘルスチェック: <a href="/health">/health</a></p>
</body>
</html>`)
}
