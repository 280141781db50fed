package tokenstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teemow/accountbroker/internal/credentials"
)

// document is the serialized form of a credential record used by the file
// and valkey backends.
type document struct {
	Account      string    `json:"account"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitzero"`
	Scopes       []string  `json:"scopes,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// codec converts records to and from documents, sealing the token fields.
type codec struct {
	cipher *Cipher
}

func (c codec) sealTokens(rec *credentials.Record) (access, refresh string, err error) {
	if access, err = c.cipher.Seal(rec.AccessToken.Reveal()); err != nil {
		return "", "", fmt.Errorf("seal access token: %w", err)
	}
	if refresh, err = c.cipher.Seal(rec.RefreshToken.Reveal()); err != nil {
		return "", "", fmt.Errorf("seal refresh token: %w", err)
	}
	return access, refresh, nil
}

func (c codec) openTokens(access, refresh string) (credentials.Secret, credentials.Secret, error) {
	a, err := c.cipher.Open(access)
	if err != nil {
		return "", "", fmt.Errorf("open access token: %w", err)
	}
	r, err := c.cipher.Open(refresh)
	if err != nil {
		return "", "", fmt.Errorf("open refresh token: %w", err)
	}
	return credentials.Secret(a), credentials.Secret(r), nil
}

func (c codec) marshal(account string, rec *credentials.Record, now time.Time) ([]byte, error) {
	access, refresh, err := c.sealTokens(rec)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(document{
		Account:      account,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    rec.TokenType,
		Expiry:       rec.Expiry.UTC(),
		Scopes:       rec.Scopes,
		UpdatedAt:    now.UTC(),
	}, "", "  ")
}

func (c codec) unmarshal(data []byte) (string, *credentials.Record, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", nil, fmt.Errorf("decode credential document: %w", err)
	}
	access, refresh, err := c.openTokens(doc.AccessToken, doc.RefreshToken)
	if err != nil {
		return "", nil, err
	}
	return doc.Account, &credentials.Record{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    doc.TokenType,
		Expiry:       doc.Expiry,
		Scopes:       doc.Scopes,
	}, nil
}
