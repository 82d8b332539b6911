package reservation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	signer := NewSigner("test-secret-key-123", time.Hour)
	promptID := uuid.New()

	token, err := signer.Issue(promptID, []string{"B", "A", "C"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// set semantics: order and repeats do not matter
	assert.NoError(t, signer.Verify(token, promptID, []string{"C", "A", "B", "A"}))
}

func TestVerifyRejectsMismatch(t *testing.T) {
	signer := NewSigner("test-secret-key-123", time.Hour)
	promptID := uuid.New()

	token, err := signer.Issue(promptID, []string{"A", "B"})
	require.NoError(t, err)

	assert.ErrorIs(t, signer.Verify(token, uuid.New(), []string{"A", "B"}), ErrMismatch)
	assert.ErrorIs(t, signer.Verify(token, promptID, []string{"A", "B", "C"}), ErrMismatch)
	assert.ErrorIs(t, signer.Verify(token, promptID, []string{"A", "X"}), ErrMismatch)
}

func TestVerifyRejectsForgedAndExpired(t *testing.T) {
	promptID := uuid.New()
	signer := NewSigner("right-key", time.Minute)

	forged, err := NewSigner("wrong-key", time.Minute).Issue(promptID, []string{"A"})
	require.NoError(t, err)
	assert.ErrorIs(t, signer.Verify(forged, promptID, []string{"A"}), ErrInvalidToken)

	assert.ErrorIs(t, signer.Verify("not-a-token", promptID, []string{"A"}), ErrInvalidToken)

	token, err := signer.Issue(promptID, []string{"A"})
	require.NoError(t, err)
	signer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.ErrorIs(t, signer.Verify(token, promptID, []string{"A"}), ErrInvalidToken)
}
