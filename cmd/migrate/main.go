// migrate applies the embedded Postgres session schema; run with go run ./cmd/migrate.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/MrEthical07/goSession/internal/config"
	"github.com/MrEthical07/goSession/session/sqlstore"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	dsn := config.DatabaseURL()
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set; export it or add it to .env")
		os.Exit(1)
	}

	if err := sqlstore.Migrate(dsn, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
