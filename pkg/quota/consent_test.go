package quota

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyweave/storyweave/pkg/cache"
	"github.com/storyweave/storyweave/pkg/models"
)

// mapKV is a minimal in-memory cache.KV.
type mapKV struct {
	data map[string][]byte
}

func newMapKV() *mapKV { return &mapKV{data: map[string][]byte{}} }

func (m *mapKV) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	return v, nil
}

func (m *mapKV) SetEx(_ context.Context, key string, _ time.Duration, value []byte) error {
	m.data[key] = value
	return nil
}

func (m *mapKV) Del(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func (m *mapKV) ScanByPrefix(context.Context, string, int) ([]string, error) {
	return nil, nil
}

func (m *mapKV) TTL(context.Context, string) (time.Duration, error) {
	return cache.TTLMissing, nil
}

// recordingSender captures sent messages.
type recordingSender struct {
	to   []string
	body []string
}

func (r *recordingSender) Send(_ context.Context, phone, message string) error {
	r.to = append(r.to, phone)
	r.body = append(r.body, message)
	return nil
}

func testGate() (*Gate, *mapKV, *recordingSender) {
	kv := newMapKV()
	sender := &recordingSender{}
	g := NewGate(kv, cache.Keys{Prefix: "test"}, sender, slog.Default())
	return g, kv, sender
}

func TestConsentStatusMissIsUnverified(t *testing.T) {
	g, _, _ := testGate()

	status, err := g.ConsentStatus(context.Background(), "u-1")
	require.NoError(t, err)
	assert.False(t, status.Verified)
	assert.Nil(t, status.Meta)
}

func TestConsentStatusVerifiedWithMeta(t *testing.T) {
	g, kv, _ := testGate()
	keys := cache.Keys{Prefix: "test"}
	kv.data[keys.ParentConsent("u-1")] = []byte("verified")
	kv.data[keys.ParentConsentMeta("u-1")] = []byte(`{"method":"sms","consent_at":"2026-08-01T00:00:00Z"}`)

	status, err := g.ConsentStatus(context.Background(), "u-1")
	require.NoError(t, err)
	assert.True(t, status.Verified)
	require.NotNil(t, status.Meta)
	assert.Equal(t, "sms", status.Meta.Method)
}

func TestConsentStatusMalformedMetaIsTolerated(t *testing.T) {
	g, kv, _ := testGate()
	keys := cache.Keys{Prefix: "test"}
	kv.data[keys.ParentConsent("u-1")] = []byte("verified")
	kv.data[keys.ParentConsentMeta("u-1")] = []byte(`{not json`)

	status, err := g.ConsentStatus(context.Background(), "u-1")
	require.NoError(t, err)
	assert.True(t, status.Verified)
	assert.Nil(t, status.Meta)
}

func TestCheckConsent(t *testing.T) {
	g, kv, _ := testGate()
	keys := cache.Keys{Prefix: "test"}

	t.Run("adult passes without a flag", func(t *testing.T) {
		ok, err := g.CheckConsent(context.Background(), &models.User{ID: "u-adult", Age: 35})
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("unverified minor fails closed", func(t *testing.T) {
		ok, err := g.CheckConsent(context.Background(), &models.User{ID: "u-kid", Age: 8})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("verified minor passes", func(t *testing.T) {
		kv.data[keys.ParentConsent("u-kid")] = []byte("verified")
		ok, err := g.CheckConsent(context.Background(), &models.User{ID: "u-kid", Age: 8})
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestCheckStoryQuotaAllows(t *testing.T) {
	g, _, sender := testGate()

	result := g.CheckStoryQuota(context.Background(),
		&models.User{ID: "u-1", Tier: models.TierIndividual}, false)

	assert.True(t, result.Allowed)
	assert.False(t, result.VerificationRequired)
	assert.Empty(t, sender.to)
}

func TestCheckStoryQuotaLimitReachedSendsSMS(t *testing.T) {
	g, _, sender := testGate()

	result := g.CheckStoryQuota(context.Background(), &models.User{
		ID:               "u-1",
		Tier:             models.TierFree,
		StoriesThisMonth: 1,
		ParentPhone:      "+15551234567",
	}, false)

	assert.False(t, result.Allowed)
	assert.True(t, result.VerificationRequired)
	assert.NotEmpty(t, result.Message)
	require.Len(t, sender.to, 1)
	assert.Equal(t, "+15551234567", sender.to[0])
	assert.Contains(t, sender.body[0], "verification code")
}

func TestCheckStoryQuotaLimitReachedWithoutPhone(t *testing.T) {
	g, _, sender := testGate()

	result := g.CheckStoryQuota(context.Background(), &models.User{
		ID:               "u-1",
		Tier:             models.TierFree,
		StoriesThisMonth: 1,
	}, false)

	assert.False(t, result.Allowed)
	assert.True(t, result.VerificationRequired)
	assert.Empty(t, sender.to)
}

func TestCheckStoryQuotaTestModeBypass(t *testing.T) {
	g, _, _ := testGate()
	over := &models.User{ID: "u-1", Tier: models.TierFree, StoriesThisMonth: 99}

	t.Run("both flags set bypasses", func(t *testing.T) {
		over.TestModeAuthorized = true
		result := g.CheckStoryQuota(context.Background(), over, true)
		assert.True(t, result.Allowed)
		assert.True(t, result.Bypass)
	})

	t.Run("header alone does not bypass", func(t *testing.T) {
		over.TestModeAuthorized = false
		result := g.CheckStoryQuota(context.Background(), over, true)
		assert.False(t, result.Allowed)
	})

	t.Run("persisted flag alone does not bypass", func(t *testing.T) {
		over.TestModeAuthorized = true
		result := g.CheckStoryQuota(context.Background(), over, false)
		assert.False(t, result.Allowed)
	})
}
