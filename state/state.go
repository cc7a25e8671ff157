package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/99designs/keyring"
	json "github.com/goccy/go-json"
	"golang.org/x/oauth2"
)

const (
	BackendFile    = "file"
	BackendKeyring = "keyring"

	keyringService = "mail-export"
)

var ErrTokenNotFound = errors.New("no stored token")

// TokenStore persists the OAuth token between runs.
type TokenStore interface {
	Load() (*oauth2.Token, error)
	Save(tok *oauth2.Token) error
}

// New returns the store for backend. For the file backend path is the token
// file; for the keyring backend it is the key the token is stored under.
func New(backend, path string) (TokenStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("token path is empty")
	}
	switch backend {
	case BackendFile, "":
		return NewFileTokenStore(path), nil
	case BackendKeyring:
		return NewKeyringTokenStore(path)
	default:
		return nil, fmt.Errorf("unknown token store %q", backend)
	}
}

// FileTokenStore keeps the token as JSON in a single file, readable only by the owner.
type FileTokenStore struct {
	path string
}

func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: filepath.Clean(path)}
}

func (f *FileTokenStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	return decodeToken(data)
}

func (f *FileTokenStore) Save(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create token directory: %w", err)
		}
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

// KeyringTokenStore keeps the token in the operating system keyring.
type KeyringTokenStore struct {
	ring keyring.Keyring
	key  string
}

func NewKeyringTokenStore(key string) (*KeyringTokenStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mail-export/keyring",
		FilePasswordFunc:         keyring.FixedStringPrompt("mail-export-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return &KeyringTokenStore{ring: ring, key: key}, nil
}

func (k *KeyringTokenStore) Load() (*oauth2.Token, error) {
	item, err := k.ring.Get(k.key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read token %q from keyring: %w", k.key, err)
	}
	return decodeToken(item.Data)
}

func (k *KeyringTokenStore) Save(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := k.ring.Set(keyring.Item{Key: k.key, Data: data, Label: "mail-export OAuth token"}); err != nil {
		return fmt.Errorf("write token %q to keyring: %w", k.key, err)
	}
	return nil
}

func decodeToken(data []byte) (*oauth2.Token, error) {
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, ErrTokenNotFound
	}
	return &tok, nil
}
