package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/jun/securenotes/internal/config"
	"github.com/jun/securenotes/internal/crypto"
	"github.com/jun/securenotes/internal/queue"
	"github.com/jun/securenotes/internal/store"
	"github.com/jun/securenotes/internal/syncer"
)

// accountKey is the metadata key holding the logged-in account id.
const accountKey = "account_id"

// env is what most commands need: the config and the open local database.
type env struct {
	cfg   config.Config
	store *store.Store
}

func openEnv() *env {
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("Failed to load config", err)
	}
	s, err := store.Open(cfg.DBPath)
	if err != nil {
		fatal("Failed to open local database", err)
	}
	return &env{cfg: cfg, store: s}
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		slog.Warn("closing database", "err", err)
	}
}

func (e *env) remote() *syncer.HTTPRemote {
	return syncer.NewHTTPRemote(e.cfg.ServerURL, syncer.NewStoredTokenSource(e.store), e.cfg.RequestTimeout)
}

// client assembles the sync client. Requires a logged-in account.
func (e *env) client(ctx context.Context) (*syncer.Client, error) {
	enc, err := e.encryptor(ctx)
	if err != nil {
		return nil, err
	}
	q, err := queue.New(ctx, queue.Options{Journal: e.store})
	if err != nil {
		return nil, err
	}
	return syncer.NewClient(e.store, e.remote(), q, enc, syncer.Options{
		PushConcurrency: e.cfg.PushConcurrency,
		Logger:          slog.Default(),
	}), nil
}

func (e *env) encryptor(ctx context.Context) (crypto.Encryptor, error) {
	switch e.cfg.Encryption.Provider {
	case config.ProviderNone:
		slog.Warn("note encryption disabled; the server will see plaintext")
		return crypto.NewMockEncryptor(), nil

	case config.ProviderKMS:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("unable to load AWS config: %w", err)
		}
		return crypto.NewKMSService(kms.NewFromConfig(awsCfg), e.cfg.Encryption.KMSKeyID), nil

	default:
		if e.cfg.Passphrase == "" {
			return nil, errors.New("SECURENOTES_PASSPHRASE is not set")
		}
		account, ok, err := e.store.GetMeta(ctx, accountKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New("not logged in; run 'notes login' first")
		}
		return crypto.NewPassphraseEncryptor(e.cfg.Passphrase, crypto.AccountSalt(account))
	}
}
