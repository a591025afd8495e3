package continuity

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyweave/storyweave/pkg/cache"
	"github.com/storyweave/storyweave/pkg/config"
	"github.com/storyweave/storyweave/pkg/models"
)

// fakeKV is an in-memory cache.KV for tests.
type fakeKV struct {
	mu   sync.Mutex
	data map[string]fakeEntry
}

type fakeEntry struct {
	val []byte
	exp time.Time
}

func newFakeKV() *fakeKV { return &fakeKV{data: map[string]fakeEntry{}} }

func (f *fakeKV) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.data[key]
	if !ok || time.Now().After(e.exp) {
		return nil, cache.ErrMiss
	}
	return e.val, nil
}

func (f *fakeKV) SetEx(_ context.Context, key string, ttl time.Duration, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = fakeEntry{val: value, exp: time.Now().Add(ttl)}
	return nil
}

func (f *fakeKV) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeKV) ScanByPrefix(_ context.Context, prefix string, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
			if len(keys) == limit {
				break
			}
		}
	}
	return keys, nil
}

func (f *fakeKV) TTL(_ context.Context, key string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.data[key]
	if !ok {
		return cache.TTLMissing, nil
	}
	return time.Until(e.exp), nil
}

func testManager(t *testing.T) (*Manager, *fakeKV) {
	t.Helper()
	kv := newFakeKV()
	cfg := config.ContinuityConfig{
		SessionTTL:        30 * time.Minute,
		CompressThreshold: 2048,
		CleanupInterval:   5 * time.Minute,
		CleanupScanLimit:  100,
		KeyPrefix:         "test",
	}
	m := NewManager(kv, nil, cfg, testKeyring(), slog.Default())
	return m, kv
}

func TestGetOrCreateContextFresh(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	cc, err := m.GetOrCreateContext(ctx, "s-1", "u-1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseGreeting, cc.ConversationPhase)
	assert.Equal(t, "u-1", cc.UserContext.PrimaryUserID)
	assert.Equal(t, []string{"u-1"}, cc.UserContext.ActiveUsers)

	// Second load finds the cached copy.
	again, err := m.GetOrCreateContext(ctx, "s-1", "u-1", nil)
	require.NoError(t, err)
	assert.Equal(t, cc.SessionID, again.SessionID)
	assert.Equal(t, cc.CreatedAt.Unix(), again.CreatedAt.Unix())
}

func TestGetOrCreateContextRecordsDevice(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	cc, err := m.GetOrCreateContext(ctx, "s-1", "u-1", &models.DeviceRecord{
		DeviceID: "phone-1", DeviceType: "phone",
	})
	require.NoError(t, err)
	require.Len(t, cc.DeviceHistory, 1)
	assert.Equal(t, "s-1", cc.DeviceHistory[0].SessionID)
	assert.False(t, cc.DeviceHistory[0].Timestamp.IsZero())

	// The found path appends the new device and persists it.
	_, err = m.GetOrCreateContext(ctx, "s-1", "u-1", &models.DeviceRecord{
		DeviceID: "tablet-1", DeviceType: "tablet",
	})
	require.NoError(t, err)

	got, err := m.GetContext(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, got.DeviceHistory, 2)
	assert.Equal(t, "tablet-1", got.DeviceHistory[1].DeviceID)
}

func TestGetOrCreateContextScansPriorSessions(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()
	base := time.Now()

	// Two live sessions for the same user; the newer one wins.
	m.now = func() time.Time { return base.Add(-10 * time.Minute) }
	older, err := m.GetOrCreateContext(ctx, "s-a", "u-1", nil)
	require.NoError(t, err)
	older.ConversationPhase = models.PhaseCharacterCreation
	older.StoryState.StoryOutline = "an abandoned draft"
	require.NoError(t, m.SaveContext(ctx, older))

	m.now = func() time.Time { return base.Add(-time.Minute) }
	newer, err := m.GetOrCreateContext(ctx, "s-b", "u-1", nil)
	require.NoError(t, err)
	newer.ConversationPhase = models.PhaseStoryBuilding
	newer.StoryState.StoryOutline = "a dragon and a lighthouse"
	newer.LastIntent = models.IntentContinueStory
	for i := 0; i < 3; i++ {
		newer.AppendHistory(models.HistoryEntry{UserInput: "turn", Phase: newer.ConversationPhase})
	}
	require.NoError(t, m.SaveContext(ctx, newer))

	m.now = func() time.Time { return base }
	cc, err := m.GetOrCreateContext(ctx, "s-c", "u-1", &models.DeviceRecord{
		DeviceID: "speaker-1", DeviceType: "smart-speaker",
	})
	require.NoError(t, err)

	assert.Equal(t, "s-b", cc.ParentSessionID)
	assert.Contains(t, cc.SessionChain, "s-b")
	assert.NotContains(t, cc.SessionChain, "s-c")
	assert.Equal(t, models.PhaseStoryBuilding, cc.ConversationPhase)
	assert.Equal(t, "a dragon and a lighthouse", cc.StoryState.StoryOutline)
	assert.Equal(t, models.IntentContinueStory, cc.LastIntent)
	assert.Len(t, cc.ConversationHistory, 3)
	require.Len(t, cc.DeviceHistory, 1)
	assert.Equal(t, "s-c", cc.DeviceHistory[0].SessionID)
	require.NotNil(t, cc.Interruption)
	assert.NotEmpty(t, cc.Interruption.ResumptionPrompt)

	// The reconstructed session is saved and found directly next time.
	again, err := m.GetContext(ctx, "s-c")
	require.NoError(t, err)
	assert.Equal(t, "s-b", again.ParentSessionID)
}

func TestGetOrCreateContextIgnoresHandedOffPrior(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	prior, err := m.GetOrCreateContext(ctx, "s-old", "u-1", nil)
	require.NoError(t, err)
	prior.ConversationPhase = models.PhaseStoryBuilding
	prior.Metadata = map[string]any{"handed_off_to": "s-speaker"}
	require.NoError(t, m.SaveContext(ctx, prior))

	cc, err := m.GetOrCreateContext(ctx, "s-new", "u-1", nil)
	require.NoError(t, err)
	assert.Empty(t, cc.ParentSessionID)
	assert.Equal(t, models.PhaseGreeting, cc.ConversationPhase)
}

func TestSaveContextDropsExpired(t *testing.T) {
	m, kv := testManager(t)
	ctx := context.Background()

	cc := &models.ConversationContext{MemoryState: models.MemoryState{
		SessionID: "s-old",
		UserID:    "u-1",
		ExpiresAt: time.Now().Add(-time.Minute),
	}}
	require.NoError(t, m.SaveContext(ctx, cc))
	assert.Empty(t, kv.data)
}

func TestSaveContextStripsTempData(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	cc, err := m.GetOrCreateContext(ctx, "s-1", "u-1", nil)
	require.NoError(t, err)
	cc.Context.TempData = map[string]any{"scratch": true}
	require.NoError(t, m.SaveContext(ctx, cc))

	got, err := m.GetContext(ctx, "s-1")
	require.NoError(t, err)
	assert.Nil(t, got.Context.TempData)
}

func TestHandleDeviceHandoff(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	src, err := m.GetOrCreateContext(ctx, "s-phone", "u-1", nil)
	require.NoError(t, err)
	src.ConversationPhase = models.PhaseStoryBuilding
	src.StoryState.StoryOutline = "a dragon and a lighthouse"
	require.NoError(t, m.SaveContext(ctx, src))

	target, err := m.HandleDeviceHandoff(ctx, "s-phone", "s-speaker", models.DeviceRecord{
		DeviceID: "echo-1", DeviceType: "smart-speaker",
	})
	require.NoError(t, err)

	assert.Equal(t, "s-speaker", target.SessionID)
	assert.Equal(t, "s-phone", target.ParentSessionID)
	assert.Contains(t, target.SessionChain, "s-phone")
	assert.Equal(t, "a dragon and a lighthouse", target.StoryState.StoryOutline)
	require.NotEmpty(t, target.DeviceHistory)
	assert.Equal(t, "s-speaker", target.DeviceHistory[len(target.DeviceHistory)-1].SessionID)

	// Source is annotated and refuses a second handoff.
	annotated, err := m.GetContext(ctx, "s-phone")
	require.NoError(t, err)
	assert.True(t, annotated.HandedOff())

	_, err = m.HandleDeviceHandoff(ctx, "s-phone", "s-tablet", models.DeviceRecord{DeviceID: "tab-1"})
	require.Error(t, err)
}

func TestSwitchUserContext(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	cc, err := m.GetOrCreateContext(ctx, "s-shared", "u-alice", nil)
	require.NoError(t, err)
	cc.ConversationPhase = models.PhaseStoryBuilding
	cc.StoryState.StoryOutline = "alice's story"
	cc.LastIntent = models.IntentContinueStory
	require.NoError(t, m.SaveContext(ctx, cc))

	_, err = m.SeparateUserContext(ctx, "s-shared", "u-alice", []string{"u-alice", "u-bob"})
	require.NoError(t, err)

	// Bob takes over: no snapshot yet, so he starts at greeting.
	switched, err := m.SwitchUserContext(ctx, "s-shared", "u-bob")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseGreeting, switched.ConversationPhase)
	assert.Empty(t, switched.StoryState.StoryOutline)
	assert.Equal(t, "u-bob", switched.UserContext.PrimaryUserID)

	// Alice comes back and her state is restored.
	restored, err := m.SwitchUserContext(ctx, "s-shared", "u-alice")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseStoryBuilding, restored.ConversationPhase)
	assert.Equal(t, "alice's story", restored.StoryState.StoryOutline)
	assert.Equal(t, models.IntentContinueStory, restored.LastIntent)
}

func TestHandleInterruption(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	tests := []struct {
		name        string
		phase       models.ConversationPhase
		story       models.StoryState
		wantPending []string
	}{
		{
			name:  "character creation missing everything",
			phase: models.PhaseCharacterCreation,
			wantPending: []string{
				"collect_character_name",
				"collect_character_appearance",
				"collect_character_personality",
			},
		},
		{
			name:  "character creation with name",
			phase: models.PhaseCharacterCreation,
			story: models.StoryState{CharacterDetails: map[string]any{"name": "Luna"}},
			wantPending: []string{
				"collect_character_appearance",
				"collect_character_personality",
			},
		},
		{
			name:        "story building without outline",
			phase:       models.PhaseStoryBuilding,
			wantPending: []string{"create_story_outline", "start_story_narration"},
		},
		{
			name:        "story building mid narration",
			phase:       models.PhaseStoryBuilding,
			story:       models.StoryState{StoryOutline: "outline", CurrentBeat: 2},
			wantPending: nil,
		},
		{
			name:        "asset generation",
			phase:       models.PhaseAssetGeneration,
			wantPending: []string{"complete_asset_generation"},
		},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessionID := "s-int-" + string(rune('a'+i))
			cc, err := m.GetOrCreateContext(ctx, sessionID, "u-1", nil)
			require.NoError(t, err)
			cc.ConversationPhase = tt.phase
			cc.StoryState = tt.story
			require.NoError(t, m.SaveContext(ctx, cc))

			got, err := m.HandleInterruption(ctx, sessionID, InterruptUserStop, nil)
			require.NoError(t, err)
			require.NotNil(t, got.Interruption)
			assert.Equal(t, tt.wantPending, got.Interruption.PendingActions)
			assert.NotEmpty(t, got.Interruption.ResumptionPrompt)
		})
	}
}

func TestGenerateResumptionPromptBuckets(t *testing.T) {
	m, _ := testManager(t)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	cc := &models.ConversationContext{MemoryState: models.MemoryState{
		ConversationPhase: models.PhaseStoryBuilding,
	}}

	tests := []struct {
		name    string
		updated time.Time
		want    string
	}{
		{"minutes", base.Add(-10 * time.Minute), "a few minutes ago"},
		{"one hour", base.Add(-90 * time.Minute), "1 hour ago"},
		{"hours", base.Add(-5 * time.Hour), "5 hours ago"},
		{"one day", base.Add(-30 * time.Hour), "1 day ago"},
		{"days", base.Add(-72 * time.Hour), "3 days ago"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cc.UpdatedAt = tt.updated
			prompt := m.GenerateResumptionPrompt(cc, InterruptTimeout)
			assert.Contains(t, prompt, tt.want)
			assert.Contains(t, prompt, "building your story")
		})
	}
}
