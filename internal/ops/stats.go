package ops

import (
	"database/sql"
	"time"

	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/db"
)

// StatsOutput contains store-wide capsule counters.
type StatsOutput struct {
	db.Stats
}

// Stats summarizes capsule counts per status plus the currently due count.
func Stats(database *sql.DB) (*StatsOutput, error) {
	s, err := db.GetStats(database, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	return &StatsOutput{Stats: *s}, nil
}
