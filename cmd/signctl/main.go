// signctl is the operations CLI: schema migration, org and operator
// provisioning, and small forensic helpers for the signing-token ledger.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/codebymv/Itemize-sub008/internal/auth"
	"github.com/codebymv/Itemize-sub008/internal/store"
	"github.com/codebymv/Itemize-sub008/pkg/db"
	"github.com/codebymv/Itemize-sub008/pkg/token"
)

func main() {
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}

	root := &cli.Command{
		Name:  "signctl",
		Usage: "Signature routing service operations CLI",
		Commands: []*cli.Command{
			migrateCommand(),
			orgCommand(),
			tokenCommand(),
		},
	}

	if err := root.Run(context.Background(), args); err != nil {
		log.Fatal(err)
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply embedded schema migrations to DATABASE_URL",
		Action: func(ctx context.Context, c *cli.Command) error {
			pool, err := db.Connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := store.RunMigrations(ctx, pool); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func orgCommand() *cli.Command {
	return &cli.Command{
		Name:  "org",
		Usage: "Organization provisioning",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create an organization with its first operator",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true, Usage: "organization name"},
					&cli.StringFlag{Name: "admin-email", Required: true},
					&cli.StringFlag{Name: "admin-name", Value: "Administrator"},
					&cli.StringFlag{Name: "password", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					pool, err := db.Connect(ctx)
					if err != nil {
						return err
					}
					defer pool.Close()
					st := store.New(pool)

					hash, err := auth.HashPassword(c.String("password"))
					if err != nil {
						return err
					}
					org := store.Org{OrgID: store.NewID("org"), Name: strings.TrimSpace(c.String("name"))}
					usr := store.User{
						UserID:       store.NewID("usr"),
						OrgID:        org.OrgID,
						Email:        strings.ToLower(strings.TrimSpace(c.String("admin-email"))),
						Name:         strings.TrimSpace(c.String("admin-name")),
						PasswordHash: hash,
					}
					if err := st.CreateOrgWithOwner(ctx, org, usr); err != nil {
						return err
					}
					return printJSON(map[string]any{"org_id": org.OrgID, "user_id": usr.UserID, "email": usr.Email})
				},
			},
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Signing token helpers",
		Commands: []*cli.Command{
			{
				Name:  "hash",
				Usage: "Print the ledger hash of a raw signing token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "token", Required: true, Usage: "raw token from a signing link"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					fmt.Println(token.Hash(c.String("token")))
					return nil
				},
			},
			{
				Name:  "issue",
				Usage: "Mint a raw token and its hash (debugging only)",
				Action: func(ctx context.Context, c *cli.Command) error {
					raw, hash := token.Issue()
					return printJSON(map[string]string{"token": raw, "hash": hash})
				},
			},
		},
	}
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
