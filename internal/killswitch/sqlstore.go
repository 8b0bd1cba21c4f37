package killswitch

import (
	"context"

	"github.com/AbirAnasAhamed/CosmoQuantAI-sub000/pkg/db"
)

// SQLStore keeps flags in the shared database so API writes are visible
// to every engine on the next tick.
type SQLStore struct {
	DB *db.Database
}

func NewSQLStore(database *db.Database) *SQLStore {
	return &SQLStore{DB: database}
}

func (s *SQLStore) Get(ctx context.Context, key string) (bool, error) {
	return s.DB.GetKillSwitch(ctx, key)
}

func (s *SQLStore) Set(ctx context.Context, key string, value bool) error {
	return s.DB.SetKillSwitch(ctx, key, value)
}
