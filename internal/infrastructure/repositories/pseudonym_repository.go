package repositories

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/internal/domain/repositories"
	"github.com/complyaudit/audit-core/pkg/apierr"
)

// PseudonymRepository implements repositories.PseudonymRepository over
// a pseudonym_mappings table.
type PseudonymRepository struct {
	db *sqlx.DB
}

func NewPseudonymRepository(db *sqlx.DB) *PseudonymRepository {
	return &PseudonymRepository{db: db}
}

var _ repositories.PseudonymRepository = (*PseudonymRepository)(nil)

func (r *PseudonymRepository) Save(ctx context.Context, mapping *entities.PseudonymMapping) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pseudonym_mappings (
			original_id, pseudonym_id, strategy, created_at, encrypted_original, encryption_key_id
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (original_id, strategy) DO NOTHING`,
		mapping.OriginalID, mapping.PseudonymID, mapping.Strategy, mapping.CreatedAt,
		mapping.EncryptedOriginal, mapping.EncryptionKeyID,
	)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorageUnavailable, "failed to save pseudonym mapping", err)
	}
	return nil
}

func (r *PseudonymRepository) FindByOriginalID(ctx context.Context, originalID string, strategy entities.PseudonymStrategy) (*entities.PseudonymMapping, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT original_id, pseudonym_id, strategy, created_at, encrypted_original, encryption_key_id
		FROM pseudonym_mappings WHERE original_id = $1 AND strategy = $2`, originalID, strategy)
	mapping, err := scanPseudonymMapping(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to load pseudonym mapping", err)
	}
	return mapping, nil
}

func (r *PseudonymRepository) FindByPseudonymID(ctx context.Context, pseudonymID string) (*entities.PseudonymMapping, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT original_id, pseudonym_id, strategy, created_at, encrypted_original, encryption_key_id
		FROM pseudonym_mappings WHERE pseudonym_id = $1`, pseudonymID)
	mapping, err := scanPseudonymMapping(row)
	if err == sql.ErrNoRows {
		return nil, apierr.New(apierr.CodeValidation, "no pseudonym mapping with that pseudonym id")
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.CodeStorageUnavailable, "failed to load pseudonym mapping", err)
	}
	return mapping, nil
}

func scanPseudonymMapping(row rowScanner) (*entities.PseudonymMapping, error) {
	var m entities.PseudonymMapping
	if err := row.Scan(&m.OriginalID, &m.PseudonymID, &m.Strategy, &m.CreatedAt, &m.EncryptedOriginal, &m.EncryptionKeyID); err != nil {
		return nil, err
	}
	return &m, nil
}
