package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/authzengine/authzengine/internal/store/postgres"
)

func main() {
	ctx := context.Background()

	connStr := os.Getenv("DATABASE_URL")
	if len(os.Args) > 1 {
		connStr = os.Args[1]
	}
	if connStr == "" {
		log.Fatal("Usage: migrate <database-url> (or set DATABASE_URL)")
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to ping: %v", err)
	}

	fmt.Println("✓ Connected to database")

	fmt.Println("Running 001_initial_schema.up.sql...")
	if _, err := db.ExecContext(ctx, postgres.InitialSchema); err != nil {
		log.Fatalf("Failed to execute schema: %v", err)
	}
	fmt.Println("✓ 001_initial_schema.up.sql completed")

	fmt.Println("\n✓✓✓ All migrations completed successfully!")
}
