package matrix

import (
	"context"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

const defaultPickleKey = "geminichat-pickle-key"

// InitCrypto enables end-to-end encryption when a crypto DB path is set. The
// returned close func is never nil.
func InitCrypto(ctx context.Context, client *mautrix.Client, cfg Config, log zerolog.Logger) (func() error, error) {
	noop := func() error { return nil }
	if cfg.CryptoDBPath == "" {
		log.Warn().Msg("crypto DB path not set, end-to-end encryption disabled")
		return noop, nil
	}

	pickleKey := []byte(cfg.PickleKey)
	if len(pickleKey) == 0 {
		pickleKey = []byte(defaultPickleKey)
	}

	helper, err := cryptohelper.NewCryptoHelper(client, pickleKey, cfg.CryptoDBPath)
	if err != nil {
		return noop, fmt.Errorf("failed to create crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return noop, fmt.Errorf("failed to init crypto: %w", err)
	}

	client.Crypto = helper
	log.Info().Str("path", cfg.CryptoDBPath).Msg("end-to-end encryption initialized")
	return helper.Close, nil
}
