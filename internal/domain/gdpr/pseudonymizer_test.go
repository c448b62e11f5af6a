package gdpr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyaudit/audit-core/internal/domain/entities"
	"github.com/complyaudit/audit-core/pkg/apierr"
)

type fakePseudonymRepo struct {
	byOriginal map[string]*entities.PseudonymMapping
	byPseudo   map[string]*entities.PseudonymMapping
}

func newFakePseudonymRepo() *fakePseudonymRepo {
	return &fakePseudonymRepo{
		byOriginal: make(map[string]*entities.PseudonymMapping),
		byPseudo:   make(map[string]*entities.PseudonymMapping),
	}
}

func (f *fakePseudonymRepo) Save(ctx context.Context, mapping *entities.PseudonymMapping) error {
	f.byOriginal[mapping.OriginalID] = mapping
	f.byPseudo[mapping.PseudonymID] = mapping
	return nil
}

func (f *fakePseudonymRepo) FindByOriginalID(ctx context.Context, originalID string, strategy entities.PseudonymStrategy) (*entities.PseudonymMapping, error) {
	m, ok := f.byOriginal[originalID]
	if !ok || m.Strategy != strategy {
		return nil, nil
	}
	return m, nil
}

func (f *fakePseudonymRepo) FindByPseudonymID(ctx context.Context, pseudonymID string) (*entities.PseudonymMapping, error) {
	m, ok := f.byPseudo[pseudonymID]
	if !ok {
		return nil, nil
	}
	return m, nil
}

type fakeEncryptor struct{}

func (fakeEncryptor) EncryptOriginal(ctx context.Context, keyID string, plaintext []byte) ([]byte, error) {
	return append([]byte("enc:"), plaintext...), nil
}

func (fakeEncryptor) DecryptOriginal(ctx context.Context, ciphertext []byte) ([]byte, error) {
	return ciphertext[len("enc:"):], nil
}

func TestPseudonymize_DeterministicIsIdempotent(t *testing.T) {
	repo := newFakePseudonymRepo()
	p := NewPseudonymizer(repo, fakeEncryptor{}, "key-1", []byte("pepper"))

	first, err := p.Pseudonymize(context.Background(), "user-42", entities.StrategyDeterministic)
	require.NoError(t, err)

	second, err := p.Pseudonymize(context.Background(), "user-42", entities.StrategyDeterministic)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, repo.byOriginal, 1)
}

func TestPseudonymize_RandomStrategyProducesDistinctIDs(t *testing.T) {
	repo := newFakePseudonymRepo()
	p := NewPseudonymizer(repo, fakeEncryptor{}, "key-1", []byte("pepper"))

	first, err := p.Pseudonymize(context.Background(), "user-42", entities.StrategyRandom)
	require.NoError(t, err)

	second, err := p.Pseudonymize(context.Background(), "user-42", entities.StrategyRandom)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestPseudonymize_DeterministicSameSaltSameID(t *testing.T) {
	repoA := newFakePseudonymRepo()
	repoB := newFakePseudonymRepo()
	pA := NewPseudonymizer(repoA, fakeEncryptor{}, "key-1", []byte("pepper"))
	pB := NewPseudonymizer(repoB, fakeEncryptor{}, "key-1", []byte("pepper"))

	idA, err := pA.Pseudonymize(context.Background(), "user-7", entities.StrategyDeterministic)
	require.NoError(t, err)
	idB, err := pB.Pseudonymize(context.Background(), "user-7", entities.StrategyDeterministic)
	require.NoError(t, err)

	assert.Equal(t, idA, idB)
}

func TestPseudonymize_RequiresEncryptor(t *testing.T) {
	repo := newFakePseudonymRepo()
	p := NewPseudonymizer(repo, nil, "key-1", []byte("pepper"))

	_, err := p.Pseudonymize(context.Background(), "user-1", entities.StrategyDeterministic)
	require.Error(t, err)
	assert.Equal(t, apierr.CodeConfigError, apierr.CodeOf(err))
}

func TestIsComplianceCritical(t *testing.T) {
	assert.True(t, IsComplianceCritical("security.alert.raised"))
	assert.True(t, IsComplianceCritical("auth.logout"))
	assert.True(t, IsComplianceCritical("auth.login.failure"))
	assert.False(t, IsComplianceCritical("order.create"))
}
