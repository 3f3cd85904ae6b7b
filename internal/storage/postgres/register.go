package postgres

import "presale/internal/storage"

func init() {
	// registers the snapshot backend factory
	storage.Register("postgres", New)
}
