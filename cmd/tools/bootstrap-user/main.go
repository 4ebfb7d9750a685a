// Command bootstrap-user seeds or updates a user directory entry and can
// mint a bearer token for it, for local development and smoke tests.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"bagurumba/internal/auth"
	"bagurumba/internal/config"
	"bagurumba/internal/models"
	"bagurumba/internal/storage"
)

type options struct {
	configPath  string
	userID      string
	displayName string
	category    string
	payment     string
	issueToken  bool
}

func main() {
	opts, err := parseOptions(flag.CommandLine, os.Args[1:])
	if err != nil {
		fatalf("%v", err)
	}
	cfg, _, _, err := config.Load(opts.configPath)
	if err != nil {
		fatalf("load config: %v", err)
	}
	repo, err := openRepository(cfg)
	if err != nil {
		fatalf("open datastore: %v", err)
	}
	defer closeRepository(repo)

	if err := bootstrap(context.Background(), os.Stdout, repo, cfg, opts); err != nil {
		fatalf("bootstrap user: %v", err)
	}
}

func parseOptions(fs *flag.FlagSet, args []string) (options, error) {
	var opts options
	fs.StringVar(&opts.configPath, "config", "", "path to the TOML config file")
	fs.StringVar(&opts.userID, "id", "", "user id (the token subject)")
	fs.StringVar(&opts.displayName, "name", "", "display name")
	fs.StringVar(&opts.category, "category", "", "default upload category")
	fs.StringVar(&opts.payment, "payment", string(models.PaymentStatusCompleted), "payment status (pending, completed or failed)")
	fs.BoolVar(&opts.issueToken, "token", false, "print a signed bearer token for the user")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	opts.userID = strings.TrimSpace(opts.userID)
	opts.displayName = strings.TrimSpace(opts.displayName)
	opts.category = strings.TrimSpace(opts.category)
	if opts.userID == "" {
		return options{}, errors.New("--id is required")
	}
	return opts, nil
}

func bootstrap(ctx context.Context, out io.Writer, repo storage.Repository, cfg *config.Config, opts options) error {
	_, existed, err := repo.GetUser(ctx, opts.userID)
	if err != nil {
		return err
	}
	user, err := repo.UpsertUser(ctx, storage.UpsertUserParams{
		ID:            opts.userID,
		DisplayName:   opts.displayName,
		Category:      opts.category,
		PaymentStatus: models.ParsePaymentStatus(opts.payment),
	})
	if err != nil {
		return err
	}
	state := "created"
	if existed {
		state = "updated"
	}
	fmt.Fprintf(out, "User %s (%s) %s with payment status %s.\n", user.ID, user.DisplayName, state, user.PaymentStatus)

	if !opts.issueToken {
		return nil
	}
	issuer, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		return fmt.Errorf("token issuer: %w", err)
	}
	token, err := issuer.Issue(user.ID, cfg.TokenTTL())
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintf(out, "Bearer token (valid for %s):\n%s\n", cfg.TokenTTL(), token)
	return nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openRepository(cfg *config.Config) (storage.Repository, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		return storage.NewPostgresRepository(cfg.Storage.PostgresDSN)
	case config.DriverSQLite:
		return storage.NewSQLiteRepository(cfg.Storage.Path)
	default:
		return storage.NewJSONRepository(cfg.Storage.Path)
	}
}

func closeRepository(repo storage.Repository) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = repo.Close(ctx)
}
