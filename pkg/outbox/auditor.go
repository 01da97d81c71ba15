package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FilipeBarcellos/integrationm-greenn/pkg/contracts"
)

// Auditor persists processed-event records into the outbox for the relay
// to publish.
type Auditor struct {
	Pool  *pgxpool.Pool
	Topic string
}

func (a *Auditor) Record(ctx context.Context, evt contracts.Event) error {
	return Insert(ctx, a.Pool, evt.EventID, a.Topic, evt.Email, evt)
}
