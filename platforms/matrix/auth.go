package matrix

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/term"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

const passwordEnv = "MATRIX_PASSWORD"

type Config struct {
	Enabled           bool   `toml:"enabled"`
	Homeserver        string `toml:"homeserver"`
	UserID            string `toml:"user_id"`
	CredentialsDBPath string `toml:"credentials_db_path"`
	CryptoDBPath      string `toml:"crypto_db_path"`
	PickleKey         string `toml:"pickle_key"`
	AutoJoinInvites   bool   `toml:"auto_join_invites"`
	CommandPrefix     string `toml:"command_prefix"`
}

// credentialFile is the on-disk session. The access token is sealed with a
// key derived from the account password.
type credentialFile struct {
	Homeserver    string   `json:"homeserver"`
	UserID        string   `json:"user_id"`
	DeviceID      string   `json:"device_id"`
	EncryptedData []byte   `json:"encrypted_data"`
	Nonce         [24]byte `json:"nonce"`
	Salt          []byte   `json:"salt"`
}

type session struct {
	Homeserver  string
	UserID      string
	DeviceID    string
	AccessToken string
}

func deriveKey(password string, salt []byte) [32]byte {
	derived := argon2.IDKey([]byte(password), salt, 1, 64*1024, 4, 32)

	var key [32]byte
	copy(key[:], derived)
	return key
}

func sealSession(s session, password string) ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	key := deriveKey(password, salt)
	return json.Marshal(credentialFile{
		Homeserver:    s.Homeserver,
		UserID:        s.UserID,
		DeviceID:      s.DeviceID,
		EncryptedData: secretbox.Seal(nil, []byte(s.AccessToken), &nonce, &key),
		Nonce:         nonce,
		Salt:          salt,
	})
}

func openSession(data []byte, password string) (session, error) {
	var f credentialFile
	if err := json.Unmarshal(data, &f); err != nil {
		return session{}, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if len(f.Salt) == 0 {
		return session{}, errors.New("credentials file has no salt; delete it and log in again")
	}

	key := deriveKey(password, f.Salt)
	token, ok := secretbox.Open(nil, f.EncryptedData, &f.Nonce, &key)
	if !ok {
		return session{}, errors.New("failed to decrypt credentials - wrong password?")
	}
	return session{
		Homeserver:  f.Homeserver,
		UserID:      f.UserID,
		DeviceID:    f.DeviceID,
		AccessToken: string(token),
	}, nil
}

func readPassword() (string, error) {
	if password := os.Getenv(passwordEnv); password != "" {
		return password, nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("%s is not set and stdin is not a terminal", passwordEnv)
	}

	fmt.Fprint(os.Stderr, "Enter Matrix password (or set "+passwordEnv+"): ")
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Login returns a client for cfg.UserID. The first run logs in with the
// password and stores the sealed session; later runs reuse it.
func Login(ctx context.Context, cfg Config, log zerolog.Logger) (*mautrix.Client, error) {
	password, err := readPassword()
	if err != nil {
		return nil, fmt.Errorf("failed to get password: %w", err)
	}

	data, err := os.ReadFile(cfg.CredentialsDBPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Info().Str("homeserver", cfg.Homeserver).Str("user_id", cfg.UserID).Msg("first-time login")
		return passwordLogin(ctx, cfg, password, log)
	case err != nil:
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	s, err := openSession(data, password)
	if err != nil {
		return nil, err
	}
	client, err := mautrix.NewClient(s.Homeserver, id.UserID(s.UserID), s.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	client.DeviceID = id.DeviceID(s.DeviceID)
	client.Log = log
	log.Info().Str("device_id", s.DeviceID).Msg("loaded existing matrix session")
	return client, nil
}

func passwordLogin(ctx context.Context, cfg Config, password string, log zerolog.Logger) (*mautrix.Client, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), "")
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	client.Log = log

	resp, err := client.Login(ctx, &mautrix.ReqLogin{
		Type: "m.login.password",
		Identifier: mautrix.UserIdentifier{
			Type: "m.id.user",
			User: cfg.UserID,
		},
		Password:         password,
		StoreCredentials: true,
	})
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	sealed, err := sealSession(session{
		Homeserver:  cfg.Homeserver,
		UserID:      cfg.UserID,
		DeviceID:    string(resp.DeviceID),
		AccessToken: resp.AccessToken,
	}, password)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(cfg.CredentialsDBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create credentials dir: %w", err)
		}
	}
	if err := os.WriteFile(cfg.CredentialsDBPath, sealed, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write credentials file: %w", err)
	}

	log.Info().Str("path", cfg.CredentialsDBPath).Str("device_id", string(resp.DeviceID)).Msg("matrix credentials saved")
	return client, nil
}
