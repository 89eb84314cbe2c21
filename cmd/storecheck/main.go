package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// Connectivity probe for the battle stores. Checks Redis and, when
// configured, Postgres, then exits.
func main() {
	redisURL := os.Getenv("REDIS_URL")
	databaseURL := os.Getenv("DATABASE_URL")

	if redisURL == "" {
		log.Fatal("REDIS_URL is required")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatalf("redis url error: %v", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis ping error: %v", err)
	}
	log.Printf("redis ok: %s", opts.Addr)

	var cursor uint64
	keys, _, err := rdb.Scan(ctx, cursor, "arena:battle:*", 50).Result()
	if err != nil {
		log.Printf("battle scan error: %v", err)
	} else {
		log.Printf("battle keys sampled: %d", len(keys))
	}

	if databaseURL == "" {
		log.Println("DATABASE_URL not set; skipping Postgres check")
		return
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		log.Fatalf("postgres open error: %v", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("postgres ping error: %v", err)
	}

	var profiles int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM player_profiles").Scan(&profiles); err != nil {
		log.Printf("player_profiles count error: %v", err)
	} else {
		log.Printf("postgres ok: %d profiles", profiles)
	}
}
