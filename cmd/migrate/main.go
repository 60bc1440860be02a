// migrate applies the schema migrations under migrations/ against Postgres.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"investsmart.app/internal/migrate"
)

func main() {
	var (
		dsn = flag.String("dsn", os.Getenv("INVESTSMART_PG_DSN"), "PostgreSQL DSN")
		dir = flag.String("migrations", "migrations", "path to migration files")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide -dsn or INVESTSMART_PG_DSN")
	}
	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "status"
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	mgr := migrate.NewManager(db, *dir)

	switch cmd {
	case "up":
		if err := mgr.Up(ctx); err != nil {
			log.Fatalf("up: %v", err)
		}
		fmt.Println("migrations applied")
	case "down":
		if err := mgr.Down(ctx); err != nil {
			log.Fatalf("down: %v", err)
		}
		fmt.Println("last migration rolled back")
	case "status":
		applied, err := mgr.Status(ctx)
		if err != nil {
			log.Fatalf("status: %v", err)
		}
		if len(applied) == 0 {
			fmt.Println("no migrations applied")
			return
		}
		for _, name := range applied {
			fmt.Println(name)
		}
	default:
		log.Fatalf("unknown command %q (expected up, down or status)", cmd)
	}
}
