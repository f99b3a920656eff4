package remote

import "context"

// CredentialProvider hands out the opaque, already-decrypted API credential
// for a tournament's owner. Decryption and storage live outside this engine.
type CredentialProvider interface {
	Credential(ctx context.Context, tournamentID int) (string, error)
}

// StaticCredentialProvider returns the same token for every tournament.
// Useful for single-owner deployments and tests.
type StaticCredentialProvider struct {
	token string
}

func NewStaticCredentialProvider(token string) *StaticCredentialProvider {
	return &StaticCredentialProvider{token: token}
}

func (p *StaticCredentialProvider) Credential(context.Context, int) (string, error) {
	return p.token, nil
}
