package access

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/pkg/logging"
)

func TestCreate_ReturnsRawKeyOnce(t *testing.T) {
	t.Parallel()

	s := NewStore(logging.Nop())
	raw, rec := s.Create("ci", []string{PermRead}, CreateOptions{})

	assert.True(t, strings.HasPrefix(raw, KeyPrefix))
	assert.Len(t, raw, len(KeyPrefix)+48) // 24 random bytes, hex encoded
	assert.Equal(t, "ci", rec.Name)

	// List must never expose the full raw key.
	infos := s.List()
	require.Len(t, infos, 1)
	assert.NotEqual(t, raw, infos[0].KeyPreview)
	assert.True(t, strings.HasPrefix(raw, strings.TrimSuffix(infos[0].KeyPreview, "...")))
}

func TestValidate_UnknownExpiredAndDenied(t *testing.T) {
	t.Parallel()

	s := NewStore(logging.Nop())

	_, err := s.Validate("tg_nope", "")
	assert.ErrorIs(t, err, ErrUnknownKey)

	rawExp, _ := s.Create("old", []string{PermRead}, CreateOptions{TTL: time.Nanosecond})
	time.Sleep(2 * time.Millisecond)
	_, err = s.Validate(rawExp, "")
	assert.ErrorIs(t, err, ErrKeyExpired)

	rawRead, _ := s.Create("reader", []string{PermRead}, CreateOptions{})
	_, err = s.Validate(rawRead, PermAdmin)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestValidate_SuccessBumpsUsage(t *testing.T) {
	t.Parallel()

	s := NewStore(logging.Nop())
	raw, _ := s.Create("svc", []string{PermRead, PermWrite}, CreateOptions{})

	k1, err := s.Validate(raw, PermWrite)
	require.NoError(t, err)
	k2, err := s.Validate(raw, PermRead)
	require.NoError(t, err)

	assert.Equal(t, int64(1), k1.UseCount)
	assert.Equal(t, int64(2), k2.UseCount)
	assert.False(t, k2.LastUsed.IsZero())
}

func TestWildcard_SatisfiesEverything(t *testing.T) {
	t.Parallel()

	s := NewStore(logging.Nop())
	raw, rec := s.Create("root", []string{PermAll}, CreateOptions{})

	assert.True(t, rec.Wildcard())
	for _, perm := range []string{PermRead, PermWrite, PermAdmin, "anything"} {
		_, err := s.Validate(raw, perm)
		assert.NoError(t, err, "wildcard should satisfy %q", perm)
	}
}

func TestRevoke(t *testing.T) {
	t.Parallel()

	s := NewStore(logging.Nop())
	raw, _ := s.Create("tmp", []string{PermRead}, CreateOptions{})

	assert.True(t, s.Revoke(raw))
	assert.False(t, s.Revoke(raw))
	_, err := s.Validate(raw, "")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestBootstrap_AdminKey(t *testing.T) {
	t.Parallel()

	s := NewStore(logging.Nop())
	raw := s.Bootstrap()

	key, err := s.Validate(raw, PermAdmin)
	require.NoError(t, err)
	assert.True(t, key.Wildcard())
	assert.True(t, key.Exempt)
}
