package main

import (
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/httplog"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dual-chat/internal/relayserver"
)

var listenAddr = flag.String("listen", ":8090", "address to serve the relay on")

func main() {
	flag.Parse()
	logger := httplog.NewLogger("relay", httplog.Options{JSON: false})

	dbURL := os.Getenv("DATABASE_URL")
	var db *sql.DB
	if dbURL == "" {
		log.Print("DATABASE_URL not set; relay running without PostgreSQL persistence")
	} else {
		var err error
		db, err = sql.Open("pgx", dbURL)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			log.Fatalf("db ping: %v", err)
		}
		if err := runMigrations(db); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}

	srv := relayserver.New(db)
	log.Printf("relay server running at %s", *listenAddr)
	if err := http.ListenAndServe(*listenAddr, httplog.RequestLogger(logger)(srv.Router())); err != nil {
		log.Fatalf("relay server stopped: %v", err)
	}
}

func runMigrations(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS relay_accounts (
			id SERIAL PRIMARY KEY,
			stable_id TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS relay_messages (
			id SERIAL PRIMARY KEY,
			sender_id TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
