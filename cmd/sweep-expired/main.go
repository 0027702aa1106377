// Command sweep-expired is a one-shot maintenance script that marks overdue
// issued rewards as expired directly in PostgreSQL and prints a status summary.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"eco-referral/internal/config"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "report overdue rewards without updating them")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		log.Fatalf("sweep-expired only supports postgres, got %q", cfg.Database.Driver)
	}

	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal("Failed to ping database:", err)
	}

	now := time.Now().UTC()

	var overdue int64
	if err := db.QueryRow(
		`SELECT COUNT(*) FROM rewards WHERE status = 'issued' AND expires_at <= $1`, now,
	).Scan(&overdue); err != nil {
		log.Fatalf("Failed to count overdue rewards: %v", err)
	}
	fmt.Printf("Overdue issued rewards: %d\n", overdue)

	if !*dryRun && overdue > 0 {
		result, err := db.Exec(
			`UPDATE rewards SET status = 'expired' WHERE status = 'issued' AND expires_at <= $1`, now,
		)
		if err != nil {
			log.Fatalf("Failed to expire rewards: %v", err)
		}
		rows, _ := result.RowsAffected()
		fmt.Printf("Expired %d rewards\n", rows)
	}

	rows, err := db.Query(`SELECT status, COUNT(*) FROM rewards GROUP BY status ORDER BY status`)
	if err != nil {
		log.Fatalf("Failed to summarize rewards: %v", err)
	}
	defer rows.Close()

	fmt.Println("Rewards by status:")
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			log.Fatalf("Failed to read summary: %v", err)
		}
		fmt.Printf("  %-10s %d\n", status, count)
	}
	if err := rows.Err(); err != nil {
		log.Fatalf("Failed to read summary: %v", err)
	}
}
