// Command token_gen issues an activation token for manual plugin testing.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/technosupport/license-server/internal/config"
	"github.com/technosupport/license-server/internal/domains"
	"github.com/technosupport/license-server/internal/keygen"
	"github.com/technosupport/license-server/internal/tokens"
)

func main() {
	key := flag.String("key", "", "license key")
	domain := flag.String("domain", "localhost", "activation domain")
	plan := flag.String("plan", "pro", "plan claim")
	expires := flag.Duration("expires", 0, "license lifetime from now (0 = perpetual)")
	flag.Parse()

	if *key == "" {
		fmt.Fprintln(os.Stderr, "usage: token_gen -key WPL-XXXX-XXXX-XXXX-XXXX [-domain example.com] [-plan pro] [-expires 720h]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var expiresAt *time.Time
	if *expires > 0 {
		at := time.Now().Add(*expires)
		expiresAt = &at
	}

	token, err := tokens.NewManager(cfg.JWT.SigningKey).
		IssueActivation(keygen.Normalize(*key), domains.Normalize(*domain), *plan, expiresAt)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
}
