package main

import (
	"context"
	"flag"
	"os"

	"github.com/hetulpatel/updown/internal/logging"
	sqlstore "github.com/hetulpatel/updown/internal/storage/sqlite"
)

func main() {
	logging.InitFromEnv()
	drop := flag.Bool("drop", false, "drop existing tables before creating")
	flag.Parse()

	store, err := sqlstore.Open(os.Getenv("SQLITE_PATH"))
	if err != nil {
		logging.Fatalf("[store-migrate] open sqlite: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if *drop {
		if err := store.DropTables(ctx); err != nil {
			logging.Fatalf("[store-migrate] drop tables: %v", err)
		}
		logging.Infof("[store-migrate] dropped tables in %s", store.Path())
	}
	if err := store.CreateTables(ctx); err != nil {
		logging.Fatalf("[store-migrate] create tables: %v", err)
	}
	logging.Infof("[store-migrate] schema ready in %s", store.Path())
}
