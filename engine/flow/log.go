package flow

import (
	"context"

	"github.com/nexusflow/flowcore/pkg/logger"
)

func logFromContext(ctx context.Context) logger.Logger {
	return logger.FromContext(ctx)
}
