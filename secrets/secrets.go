// Package secrets persists accounts and their session blobs, encrypted
// at rest through the vault. One file holds the whole account list; each
// account's session lives in its own file named by account id. All files
// are owner-only.
//
// The store assumes a single writer. Two processes saving the same file
// concurrently will silently clobber each other; whole-file replace
// semantics, no locking.
package secrets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/restockd/restockd/vault"
)

// ErrNotFound is returned when no account matches an id or identifier.
var ErrNotFound = errors.New("secrets: account not found")

// Proxy describes an outbound proxy tied to one account's identity.
type Proxy struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Account is one target-site identity. The id is generator-assigned and
// never reused; all mutation goes through Store.Update / Store.Remove.
type Account struct {
	ID           string     `json:"id"`
	Login        string     `json:"login"`
	Proxy        *Proxy     `json:"proxy,omitempty"`
	PaymentLabel string     `json:"payment_label,omitempty"` // free text, never parsed
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	SessionFile  string     `json:"session_file,omitempty"` // empty = no session
}

// Draft is the caller-supplied part of a new account.
type Draft struct {
	Login        string
	Proxy        *Proxy
	PaymentLabel string
}

// Patch holds optional field updates; nil fields are left untouched.
type Patch struct {
	Login        *string
	Proxy        *Proxy
	PaymentLabel *string
	LastLoginAt  *time.Time
	SessionFile  *string
}

// Store reads and writes the encrypted account file and session blobs
// under one directory.
type Store struct {
	dir        string
	passphrase string
}

// New creates a Store rooted at dir. Nothing is touched on disk until
// the first write.
func New(dir, passphrase string) *Store {
	return &Store{dir: dir, passphrase: passphrase}
}

func (s *Store) accountsPath() string { return filepath.Join(s.dir, "accounts.vault") }

func (s *Store) sessionPath(id string) string {
	return filepath.Join(s.dir, "sessions", id+".vault")
}

// Load returns all accounts. A missing store file is an empty list, not
// an error. Vault errors (wrong passphrase, corrupted file) propagate.
func (s *Store) Load() ([]Account, error) {
	record, err := os.ReadFile(s.accountsPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: read store: %w", err)
	}

	plaintext, err := vault.Decrypt(string(record), s.passphrase)
	if err != nil {
		return nil, err
	}

	var accounts []Account
	if err := json.Unmarshal(plaintext, &accounts); err != nil {
		return nil, fmt.Errorf("secrets: parse store: %w", err)
	}
	return accounts, nil
}

// Save encrypts and writes the full account list. Whole-file replace.
func (s *Store) Save(accounts []Account) error {
	plaintext, err := json.Marshal(accounts)
	if err != nil {
		return fmt.Errorf("secrets: marshal store: %w", err)
	}

	record, err := vault.Encrypt(plaintext, s.passphrase)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("secrets: create store dir: %w", err)
	}
	if err := os.WriteFile(s.accountsPath(), []byte(record), 0o600); err != nil {
		return fmt.Errorf("secrets: write store: %w", err)
	}
	return nil
}

// Add assigns a fresh id and creation timestamp, appends, persists, and
// returns the new record.
func (s *Store) Add(draft Draft) (Account, error) {
	accounts, err := s.Load()
	if err != nil {
		return Account{}, err
	}

	acct := Account{
		ID:           uuid.Must(uuid.NewV7()).String(),
		Login:        draft.Login,
		Proxy:        draft.Proxy,
		PaymentLabel: draft.PaymentLabel,
		CreatedAt:    time.Now().UTC(),
	}

	accounts = append(accounts, acct)
	if err := s.Save(accounts); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// FindByIdentifier resolves an account two ways, in order:
//
//  1. if identifier parses as an integer within [1, len], it is a
//     1-based position in the current list snapshot;
//  2. otherwise, exact match on the login identifier.
//
// Both strategies deliberately coexist: position is convenient at the
// command line but unstable across add/remove, so login match is the
// durable form. An out-of-range number falls through to login match.
func (s *Store) FindByIdentifier(identifier string) (*Account, error) {
	accounts, err := s.Load()
	if err != nil {
		return nil, err
	}

	if n, err := strconv.Atoi(identifier); err == nil && n >= 1 && n <= len(accounts) {
		acct := accounts[n-1]
		return &acct, nil
	}

	for i := range accounts {
		if accounts[i].Login == identifier {
			acct := accounts[i]
			return &acct, nil
		}
	}
	return nil, ErrNotFound
}

// Update merges patch into the account with the given id and persists.
func (s *Store) Update(id string, patch Patch) error {
	accounts, err := s.Load()
	if err != nil {
		return err
	}

	for i := range accounts {
		if accounts[i].ID != id {
			continue
		}
		if patch.Login != nil {
			accounts[i].Login = *patch.Login
		}
		if patch.Proxy != nil {
			accounts[i].Proxy = patch.Proxy
		}
		if patch.PaymentLabel != nil {
			accounts[i].PaymentLabel = *patch.PaymentLabel
		}
		if patch.LastLoginAt != nil {
			accounts[i].LastLoginAt = patch.LastLoginAt
		}
		if patch.SessionFile != nil {
			accounts[i].SessionFile = *patch.SessionFile
		}
		return s.Save(accounts)
	}
	return ErrNotFound
}

// Remove deletes the account's session file if present, drops the
// account, and persists the remaining list.
func (s *Store) Remove(id string) error {
	accounts, err := s.Load()
	if err != nil {
		return err
	}

	for i := range accounts {
		if accounts[i].ID != id {
			continue
		}
		if err := os.Remove(s.sessionPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("secrets: remove session: %w", err)
		}
		accounts = append(accounts[:i], accounts[i+1:]...)
		return s.Save(accounts)
	}
	return ErrNotFound
}

// SaveSession encrypts blob and writes it as the session for account id,
// overwriting any previous session. The account's SessionFile pointer is
// updated to match.
func (s *Store) SaveSession(id string, blob []byte) error {
	record, err := vault.Encrypt(blob, s.passphrase)
	if err != nil {
		return err
	}

	path := s.sessionPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("secrets: create sessions dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(record), 0o600); err != nil {
		return fmt.Errorf("secrets: write session: %w", err)
	}

	return s.Update(id, Patch{SessionFile: &path})
}

// LoadSession decrypts and returns the session blob for account id.
// ErrNotFound when no session file exists.
func (s *Store) LoadSession(id string) ([]byte, error) {
	record, err := os.ReadFile(s.sessionPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: read session: %w", err)
	}
	return vault.Decrypt(string(record), s.passphrase)
}
