package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jun/securenotes/internal/model"
	"github.com/jun/securenotes/internal/syncer"
)

var (
	loginEmail    string
	loginRegister bool
)

// readPassword takes SECURENOTES_PASSWORD, or the first line of stdin.
func readPassword() string {
	if pw, ok := os.LookupEnv("SECURENOTES_PASSWORD"); ok {
		return pw
	}
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		fatal("Failed to read password", err)
	}
	return strings.TrimRight(line, "\r\n")
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the sync server and download your notes",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e := openEnv()
		defer e.Close()

		creds := model.Credentials{Email: loginEmail, Password: readPassword()}
		session, err := e.remote().Authenticate(ctx, creds, loginRegister)
		if err != nil {
			fatal("Login failed", err)
		}

		prev, hadAccount, err := e.store.GetMeta(ctx, accountKey)
		if err != nil {
			fatal("Failed to read account", err)
		}
		if hadAccount && prev != session.UserID {
			fatal("Login failed", errors.New("this database belongs to another account"))
		}
		if err := e.store.SetMeta(ctx, syncer.TokenKey, session.Token); err != nil {
			fatal("Failed to save session", err)
		}
		if err := e.store.SetMeta(ctx, accountKey, session.UserID); err != nil {
			fatal("Failed to save account", err)
		}

		client, err := e.client(ctx)
		if err != nil {
			fatal("Failed to start sync", err)
		}
		report, err := client.Hydrate(ctx)
		if err != nil {
			fatal("Failed to download notes", err)
		}
		fmt.Printf("Logged in as %s. Downloaded %d note(s).\n", loginEmail, report.Inserted+report.Updated)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the session on this device (notes are kept)",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		e := openEnv()
		defer e.Close()

		if err := e.store.DeleteMeta(context.Background(), syncer.TokenKey); err != nil {
			fatal("Failed to log out", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, logoutCmd)
	loginCmd.Flags().StringVarP(&loginEmail, "email", "e", "", "Account email")
	loginCmd.Flags().BoolVar(&loginRegister, "register", false, "Create the account first")
	loginCmd.MarkFlagRequired("email")
}
