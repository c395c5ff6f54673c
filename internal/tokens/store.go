package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"
)

// ErrNotFound is returned by stores when an account has no saved token.
var ErrNotFound = errors.New("token not found")

// Store persists one OAuth token per account.
type Store interface {
	Load(ctx context.Context, account string) (*oauth2.Token, error)
	Save(ctx context.Context, account string, token *oauth2.Token) error
	Delete(ctx context.Context, account string) error
	Accounts(ctx context.Context) ([]string, error)
}

// FileStore keeps tokens as token-<account>.json files in a directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore rooted at dir ("." when empty).
func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = "."
	}
	return &FileStore{dir: dir}
}

func (s *FileStore) path(account string) string {
	return filepath.Join(s.dir, fmt.Sprintf("token-%s.json", account))
}

// Load retrieves a token from a local file.
func (s *FileStore) Load(_ context.Context, account string) (*oauth2.Token, error) {
	if err := validAccount(account); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(account))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token file: %w", err)
	}
	return tok, nil
}

// Save saves a token to the account's file with 0600 permissions.
func (s *FileStore) Save(_ context.Context, account string, token *oauth2.Token) error {
	if err := validAccount(account); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("unable to create token dir: %w", err)
	}
	f, err := os.OpenFile(s.path(account), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// Delete removes the account's token file. Deleting a missing token is not an error.
func (s *FileStore) Delete(_ context.Context, account string) error {
	if err := validAccount(account); err != nil {
		return err
	}
	err := os.Remove(s.path(account))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Accounts lists every account with a token file.
func (s *FileStore) Accounts(_ context.Context) ([]string, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var accounts []string
	for _, file := range files {
		if strings.HasPrefix(file.Name(), "token-") && strings.HasSuffix(file.Name(), ".json") {
			accountName := strings.TrimSuffix(strings.TrimPrefix(file.Name(), "token-"), ".json")
			accounts = append(accounts, accountName)
		}
	}
	return accounts, nil
}

func validAccount(account string) error {
	if account == "" || strings.ContainsAny(account, `/\`) || strings.Contains(account, "..") {
		return fmt.Errorf("invalid account name %q", account)
	}
	return nil
}
