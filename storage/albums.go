package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/koresolucoes/pontog-sub001/crypto"
)

// AlbumGrants issues signed access grants for the private albums of one owner.
type AlbumGrants struct {
	store   *Store
	ownerID string
	keys    crypto.KeyPair
}

// NewAlbumGrants binds grants to the owner's signing key.
func (s *Store) NewAlbumGrants(ownerID string, keys crypto.KeyPair) *AlbumGrants {
	return &AlbumGrants{store: s, ownerID: ownerID, keys: keys}
}

// GrantAccess lets granteeID view albumID. Granting twice refreshes the token.
func (g *AlbumGrants) GrantAccess(ctx context.Context, albumID, granteeID string) error {
	albumID = strings.TrimSpace(albumID)
	granteeID = strings.TrimSpace(granteeID)
	if albumID == "" || granteeID == "" {
		return errors.New("album_id and grantee_id are required")
	}

	now := g.store.now()
	token, err := g.keys.SignGrant(crypto.GrantClaims{
		AlbumID:   albumID,
		OwnerID:   g.ownerID,
		GranteeID: granteeID,
		IssuedAt:  now.Unix(),
	})
	if err != nil {
		return fmt.Errorf("sign grant for album %q: %w", albumID, err)
	}

	if _, err := g.store.db.ExecContext(ctx,
		`INSERT INTO album_grants (album_id, owner_id, grantee_id, token, granted_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (album_id, grantee_id) DO UPDATE SET
			owner_id = excluded.owner_id,
			token = excluded.token,
			granted_at = excluded.granted_at`,
		albumID,
		g.ownerID,
		granteeID,
		token,
		now.UnixMilli(),
	); err != nil {
		return fmt.Errorf("grant album %q to %q: %w", albumID, granteeID, err)
	}
	return nil
}

// HasAccess reports whether granteeID holds a grant for albumID that verifies
// against the owner's key.
func (g *AlbumGrants) HasAccess(ctx context.Context, albumID, granteeID string) (bool, error) {
	grant, err := g.store.GetAlbumGrant(ctx, albumID, granteeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	claims, err := crypto.VerifyGrant(g.keys.Public, grant.Token)
	if err != nil {
		return false, nil
	}
	return claims.AlbumID == albumID && claims.GranteeID == granteeID, nil
}

// GetAlbumGrant fetches a stored grant.
func (s *Store) GetAlbumGrant(ctx context.Context, albumID, granteeID string) (*AlbumGrant, error) {
	var (
		grant     AlbumGrant
		grantedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT album_id, owner_id, grantee_id, token, granted_at
		FROM album_grants
		WHERE album_id = ? AND grantee_id = ?`,
		albumID,
		granteeID,
	).Scan(&grant.AlbumID, &grant.OwnerID, &grant.GranteeID, &grant.Token, &grantedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get grant of album %q for %q: %w", albumID, granteeID, err)
	}
	grant.GrantedAt = time.UnixMilli(grantedAt)
	return &grant, nil
}
