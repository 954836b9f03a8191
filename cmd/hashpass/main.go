// Command hashpass prints a bcrypt hash for the auth.passwordhash setting
// (MEDIAQ_AUTH_PASSWORDHASH).
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"media-queue/internal/auth"
)

func main() {
	var password string
	flag.StringVar(&password, "password", "", "Password to hash (read from stdin when empty)")
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	if password == "" {
		password = os.Getenv("MEDIAQ_ADMIN_PASSWORD")
	}
	if password == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			logger.Fatalf("read password: %v", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		logger.Fatal("password is required: use -password, MEDIAQ_ADMIN_PASSWORD or stdin")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		logger.Fatal(err)
	}
	fmt.Println(hash)
}
