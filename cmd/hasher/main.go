// Command hasher prints the Argon2id hash of an admin key for LICENSE_ADMIN_KEY_HASHES.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/technosupport/license-server/internal/auth"
)

func main() {
	var key string
	if len(os.Args) > 1 {
		key = os.Args[1]
	} else {
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		key = strings.TrimSpace(line)
	}
	if len(key) < 16 {
		fmt.Fprintln(os.Stderr, "usage: hasher <admin-key> (at least 16 characters, or pass on stdin)")
		os.Exit(2)
	}

	hash, err := auth.HashKey(key)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
