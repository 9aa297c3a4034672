// Package credentials keeps operator-managed provider keys in postgres so a key
// can be rotated without redeploying the API.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/caminocomms/flames-selfie-test/internal/infra"
	"github.com/caminocomms/flames-selfie-test/internal/sqlinline"
)

const ProviderFal = "fal"

var ErrEmptyToken = errors.New("credentials: token is required")

// Token is a stored provider key with its audit fields.
type Token struct {
	Provider  string
	Value     string
	SetBy     string
	UpdatedAt time.Time
}

// Masked returns the value with all but the last four characters hidden.
func (t Token) Masked() string {
	if len(t.Value) <= 4 {
		return strings.Repeat("*", len(t.Value))
	}
	return strings.Repeat("*", len(t.Value)-4) + t.Value[len(t.Value)-4:]
}

type Store struct {
	sql infra.SQLExecutor
	now func() time.Time
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql, now: time.Now}
}

// FalAPIKey returns the stored fal key, or "" when none is stored.
func (s *Store) FalAPIKey(ctx context.Context) (string, error) {
	tok, ok, err := s.Lookup(ctx, ProviderFal)
	if err != nil || !ok {
		return "", err
	}
	return tok.Value, nil
}

// Lookup loads the token for provider. ok is false when nothing is stored.
func (s *Store) Lookup(ctx context.Context, provider string) (tok Token, ok bool, err error) {
	tok.Provider = provider
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	if err := row.Scan(&tok.Value, &tok.UpdatedAt, &tok.SetBy); err != nil {
		if infra.IsNoRows(err) {
			return Token{}, false, nil
		}
		return Token{}, false, err
	}
	tok.Value = strings.TrimSpace(tok.Value)
	return tok, tok.Value != "", nil
}

// SetFalAPIKey stores key for the fal provider, recording who rotated it.
func (s *Store) SetFalAPIKey(ctx context.Context, key, setBy string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyToken
	}
	now := s.now().UTC()
	props := map[string]string{"rotated_at": now.Format(time.RFC3339)}
	if setBy = strings.TrimSpace(setBy); setBy != "" {
		props["set_by"] = setBy
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, ProviderFal, key, raw, now)
	return err
}
