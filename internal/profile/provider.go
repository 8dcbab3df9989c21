// Package profile supplies mail connection profiles. Endpoint
// settings live in the database; secrets live in the system keyring
// and are joined in at read time.
package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/nlr-erp/opsmail/internal/credential"
	"github.com/nlr-erp/opsmail/internal/model"
	"github.com/nlr-erp/opsmail/internal/store"
)

// Provider reads and writes mail profiles. Every Active call hits the
// database: the active profile can change between operations, so
// nothing is cached.
type Provider struct {
	store store.Store
}

// NewProvider returns a Provider backed by s.
func NewProvider(s store.Store) *Provider {
	return &Provider{store: s}
}

// Active returns the active profile with its secrets filled in, or
// (nil, nil) when no profile is active.
func (p *Provider) Active(ctx context.Context) (*model.Profile, error) {
	prof, err := p.store.GetActiveProfile(ctx)
	if err != nil {
		return nil, err
	}
	if prof == nil {
		return nil, nil
	}
	if err := p.fillSecrets(prof); err != nil {
		return nil, err
	}
	return prof, nil
}

// Get returns one profile by ID with its secrets filled in.
func (p *Provider) Get(ctx context.Context, id string) (*model.Profile, error) {
	prof, err := p.store.GetProfileByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.fillSecrets(prof); err != nil {
		return nil, err
	}
	return prof, nil
}

// List returns all profiles without secrets.
func (p *Provider) List(ctx context.Context) ([]model.Profile, error) {
	return p.store.GetProfiles(ctx)
}

// Save stores a profile. Passwords go to the keyring, everything else
// to the database. It returns the profile ID.
func (p *Provider) Save(ctx context.Context, prof model.Profile) (string, error) {
	id, err := p.store.UpsertProfile(ctx, prof)
	if err != nil {
		return "", err
	}
	if prof.IMAP.Password != "" {
		if err := credential.Set(imapSecretKey(id), prof.IMAP.Password); err != nil {
			return "", fmt.Errorf("storing inbound secret: %w", err)
		}
	}
	if prof.SMTP.Password != "" {
		if err := credential.Set(smtpSecretKey(id), prof.SMTP.Password); err != nil {
			return "", fmt.Errorf("storing outbound secret: %w", err)
		}
	}
	return id, nil
}

// SetActive marks the given profile as the one in use.
func (p *Provider) SetActive(ctx context.Context, id string) error {
	return p.store.SetActiveProfile(ctx, id)
}

// Delete removes a profile and its keyring secrets. Missing secrets
// are not an error.
func (p *Provider) Delete(ctx context.Context, id string) error {
	if err := p.store.DeleteProfile(ctx, id); err != nil {
		return err
	}
	_ = credential.Delete(imapSecretKey(id))
	_ = credential.Delete(smtpSecretKey(id))
	return nil
}

// fillSecrets joins keyring secrets into the profile. A secret that
// was never stored leaves the password empty; the server will reject
// the login and classify it properly.
func (p *Provider) fillSecrets(prof *model.Profile) error {
	imapSecret, err := credential.Get(imapSecretKey(prof.ID))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("reading inbound secret for profile %s: %w", prof.ID, err)
	}
	smtpSecret, err := credential.Get(smtpSecretKey(prof.ID))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("reading outbound secret for profile %s: %w", prof.ID, err)
	}
	prof.IMAP.Password = imapSecret
	prof.SMTP.Password = smtpSecret
	return nil
}

func imapSecretKey(id string) string { return "profile/" + id + "/imap-password" }
func smtpSecretKey(id string) string { return "profile/" + id + "/smtp-password" }
