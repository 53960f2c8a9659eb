package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"
)

var (
	GitCommit string
	GitTag    string
	BuildTime string
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(os.Args[2:]); err != nil {
			log.Fatal("failed to issue access token: ", err)
		}
		return
	}

	app, err := NewApp()
	if err != nil {
		log.Fatal("application failed to initialized: ", err)
	}
	err = app.Run()
	if err != nil {
		log.Fatal("application exited. check logs for more details.", err)
	}
}

// issueToken prints an access token signed with the configured secret.
// Usage: library token -user <id> -role <admin|user>
func issueToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userID := fs.String("user", "", "user id carried as the token subject")
	role := fs.String("role", string(RoleUser), "role carried by the token")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return fmt.Errorf("user id is required")
	}
	if !IsKnownRole(Role(*role)) {
		return fmt.Errorf("unknown role %q", *role)
	}

	config, err := LoadAndInitConfigs(GitCommit, GitTag, BuildTime)
	if err != nil {
		return err
	}
	token, err := IssueAccessToken(&config.Auth, *userID, Role(*role), time.Now())
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
