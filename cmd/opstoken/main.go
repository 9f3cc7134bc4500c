// Command opstoken mints an operator access token for the ops feed and the
// back-office. It signs with JWT_ACCESS_SECRET from the environment (or .env).
//
//	opstoken -subject alice -role ops
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/evetabi/racesettle/internal/config"
	"github.com/evetabi/racesettle/internal/domain"
	"github.com/evetabi/racesettle/internal/service"
	"github.com/joho/godotenv"
)

func main() {
	subject := flag.String("subject", "", "operator name written to the token subject")
	role := flag.String("role", string(domain.RoleReadOnly), "admin | ops | readonly")
	ttl := flag.Duration("ttl", 0, "token lifetime; 0 uses JWT_ACCESS_TTL")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "opstoken: loading .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "opstoken: %v\n", err)
		os.Exit(1)
	}
	if cfg.JWT.AccessSecret == "" {
		fmt.Fprintln(os.Stderr, "opstoken: JWT_ACCESS_SECRET must be set")
		os.Exit(1)
	}
	if *ttl > 0 {
		cfg.JWT.AccessTTL = *ttl
	}

	token, expires, err := service.NewAuthService(cfg).IssueAccessToken(*subject, domain.OperatorRole(*role))
	if err != nil {
		fmt.Fprintf(os.Stderr, "opstoken: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expires.Format(time.RFC3339))
}
