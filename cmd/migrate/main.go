package main

import (
	"database/sql"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/jackc/pgx/v5/stdlib"

	pg "github.com/hamed0406/sensorwatch/internal/repo/postgres"
)

func main() {
	upCmd := flag.Bool("up", false, "Run all up migrations")
	downCmd := flag.Bool("down", false, "Roll back all migrations")
	stepsCmd := flag.Int("steps", 0, "Run +/- steps")
	flag.Parse()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL is empty")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	m, err := pg.NewMigrator(db)
	if err != nil {
		log.Fatalf("init migrate: %v", err)
	}

	start := time.Now()
	switch {
	case *upCmd:
		log.Println("running up migrations")
		check(m.Up())
	case *downCmd:
		log.Println("running down migrations")
		check(m.Down())
	case *stepsCmd != 0:
		log.Printf("running %d steps", *stepsCmd)
		check(m.Steps(*stepsCmd))
	default:
		log.Println("no command given; use -up, -down or -steps")
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Println("no version (empty database)")
	case err != nil:
		log.Printf("version: %v", err)
	default:
		log.Printf("current version: %d, dirty: %v", version, dirty)
	}
	log.Printf("took %v", time.Since(start))
}

func check(err error) {
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migration failed: %v", err)
	}
}
