// Package main runs the KnowledgeVault API server: the WeChat webhook bridge,
// account linking, deferred knowledge processing and maintenance tasks.
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/Jalalidin/knowledgevault-sub001/domain/health"
	"github.com/Jalalidin/knowledgevault-sub001/domain/knowledge"
	"github.com/Jalalidin/knowledgevault-sub001/domain/scheduler"
	"github.com/Jalalidin/knowledgevault-sub001/domain/tracing"
	"github.com/Jalalidin/knowledgevault-sub001/domain/wechat"
	"github.com/Jalalidin/knowledgevault-sub001/internal/config"
	"github.com/Jalalidin/knowledgevault-sub001/internal/database"
	"github.com/Jalalidin/knowledgevault-sub001/internal/server"
	"github.com/Jalalidin/knowledgevault-sub001/internal/storage"
	"github.com/Jalalidin/knowledgevault-sub001/pkg/auth"
	"github.com/Jalalidin/knowledgevault-sub001/pkg/llm/genai"
	"github.com/Jalalidin/knowledgevault-sub001/pkg/logger"
)

func main() {
	// .env.local overrides .env; neither overrides the real environment
	// except through Overload.
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure
		logger.Module,
		config.Module,
		database.Module,
		server.Module,
		storage.Module,
		tracing.Module,

		auth.Module,
		genai.Module,

		// Domain
		health.Module,
		knowledge.Module,
		wechat.Module,
		scheduler.Module,
	).Run()
}
