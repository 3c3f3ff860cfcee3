package health

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"

	"github.com/Jalalidin/knowledgevault-sub001/internal/config"
	"github.com/Jalalidin/knowledgevault-sub001/internal/jobs"
)

var Module = fx.Module("health",
	fx.Provide(newHandler),
	fx.Invoke(RegisterRoutes),
)

func newHandler(pool *pgxpool.Pool, queue *jobs.Queue, cfg *config.Config) *Handler {
	return NewHandler(pool, queue, cfg)
}
