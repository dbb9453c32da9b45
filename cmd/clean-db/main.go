// Command clean-db truncates every table in a development or test database.
// Destructive; refuses to run without an explicit DATABASE_URL.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	ctx := context.Background()
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		log.Fatal("DATABASE_URL is required")
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	fmt.Println("Cleaning database...")

	// Reverse dependency order so cascading foreign keys never block.
	tables := []string{
		"audit_chain_heads",
		"audit_entries",
		"policies",
		"role_constraints",
		"role_assignments",
		"role_permissions",
		"service_keys",
		"permissions",
		"roles",
		"principals",
		"tenants",
	}

	for _, table := range tables {
		_, err := db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		if err != nil {
			fmt.Printf("Warning: failed to truncate %s: %v\n", table, err)
		} else {
			fmt.Printf("✓ Cleared %s\n", table)
		}
	}

	fmt.Println("\n✓✓✓ Database cleaned successfully!")
	fmt.Println("Run 'server bootstrap' to re-seed a tenant.")
}
