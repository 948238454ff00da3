package bundled

import (
	"context"

	"github.com/nexuscore/runtime/pkg/models"
)

func noopCtx() context.Context {
	return context.Background()
}

func sessionCtx(sessionID string) *models.HookContext {
	return &models.HookContext{SessionID: sessionID}
}
