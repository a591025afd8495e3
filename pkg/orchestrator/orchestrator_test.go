package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyweave/storyweave/pkg/cache"
	"github.com/storyweave/storyweave/pkg/config"
	"github.com/storyweave/storyweave/pkg/continuity"
	"github.com/storyweave/storyweave/pkg/faults"
	"github.com/storyweave/storyweave/pkg/intent"
	"github.com/storyweave/storyweave/pkg/jobs"
	"github.com/storyweave/storyweave/pkg/llm"
	"github.com/storyweave/storyweave/pkg/models"
	"github.com/storyweave/storyweave/pkg/quota"
	"github.com/storyweave/storyweave/pkg/safety"
	"github.com/storyweave/storyweave/pkg/store"
)

// memKV is an in-memory cache.KV shared by the continuity manager and the
// consent gate in these tests.
type memKV struct {
	mu   sync.Mutex
	data map[string]memEntry
}

type memEntry struct {
	val []byte
	exp time.Time
}

func newMemKV() *memKV { return &memKV{data: map[string]memEntry{}} }

func (f *memKV) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.data[key]
	if !ok || time.Now().After(e.exp) {
		return nil, cache.ErrMiss
	}
	return e.val, nil
}

func (f *memKV) SetEx(_ context.Context, key string, ttl time.Duration, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = memEntry{val: value, exp: time.Now().Add(ttl)}
	return nil
}

func (f *memKV) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *memKV) ScanByPrefix(_ context.Context, prefix string, limit int) ([]string, error) {
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

func (f *memKV) TTL(_ context.Context, key string) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.data[key]
	if !ok {
		return cache.TTLMissing, nil
	}
	return time.Until(e.exp), nil
}

// scriptedLLM answers the classifier and the moderation gate with canned
// results.
type scriptedLLM struct {
	classifyArgs json.RawMessage
	moderation   llm.ModerationResult
}

func (s *scriptedLLM) FunctionCall(context.Context, llm.FunctionCallRequest) (json.RawMessage, error) {
	return s.classifyArgs, nil
}

func (s *scriptedLLM) Complete(context.Context, string, string, int) (string, error) {
	return "", nil
}

func (s *scriptedLLM) Moderate(context.Context, string) (llm.ModerationResult, error) {
	return s.moderation, nil
}

type fakeJobCreator struct {
	handle *jobs.Handle
	calls  int

	lastType    models.AsyncJobType
	lastRequest map[string]any
}

func (f *fakeJobCreator) CreateJob(_ context.Context, _, _ string, jobType models.AsyncJobType, request map[string]any) (*jobs.Handle, error) {
	f.calls++
	f.lastType = jobType
	f.lastRequest = request
	return f.handle, nil
}

type fakeAgentCaller struct {
	reply map[string]any
	calls int

	lastAgent   models.TargetAgent
	lastAction  string
	lastPayload map[string]any
}

func (f *fakeAgentCaller) RequestResponse(_ context.Context, agent models.TargetAgent, action string, payload map[string]any) (map[string]any, error) {
	f.calls++
	f.lastAgent = agent
	f.lastAction = action
	f.lastPayload = payload
	return f.reply, nil
}

type fakeUsers struct {
	users map[string]*models.User
}

func (f *fakeUsers) Get(_ context.Context, userID string) (*models.User, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

type fakeDevices struct {
	devices []store.SmartHomeDevice
	calls   int
}

func (f *fakeDevices) ListSmartHomeDevices(context.Context, string) ([]store.SmartHomeDevice, error) {
	f.calls++
	return f.devices, nil
}

type fakeSMS struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeSMS) Send(_ context.Context, _, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeSMS) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type fixture struct {
	orch       *Orchestrator
	continuity *continuity.Manager
	kv         *memKV
	keys       cache.Keys
	jobCreator *fakeJobCreator
	agents     *fakeAgentCaller
	devices    *fakeDevices
	sms        *fakeSMS
}

func testEncryption() *config.EncryptionConfig {
	key := make([]byte, 32)
	copy(key, []byte("0123456789abcdef0123456789abcdef"))
	return &config.EncryptionConfig{
		ActiveKeyID: "k1",
		Keys:        map[string][]byte{"k1": key},
	}
}

func newFixture(t *testing.T, llmClient llm.Client, users map[string]*models.User) *fixture {
	t.Helper()
	logger := slog.Default()
	kv := newMemKV()
	keys := cache.Keys{Prefix: "test"}

	cm := continuity.NewManager(kv, nil, config.ContinuityConfig{
		SessionTTL:        30 * time.Minute,
		CompressThreshold: 2048,
		CleanupScanLimit:  100,
		KeyPrefix:         "test",
	}, testEncryption(), logger)

	sender := &fakeSMS{}
	jobCreator := &fakeJobCreator{handle: &jobs.Handle{
		JobID:   "job_1_abc",
		StoryID: "story-1",
		Status:  "generating",
	}}
	caller := &fakeAgentCaller{reply: map[string]any{"text": "here we go"}}
	devices := &fakeDevices{}

	budgets := config.BudgetConfig{
		Turn:           5 * time.Second,
		Moderation:     time.Second,
		Classification: time.Second,
		AgentSync:      time.Second,
	}

	orch := New(
		cm,
		intent.NewClassifier(llmClient, logger),
		safety.NewModerator(llmClient, logger),
		quota.NewGate(kv, keys, sender, logger),
		jobCreator,
		caller,
		&fakeUsers{users: users},
		devices,
		budgets,
		logger,
	)
	return &fixture{
		orch:       orch,
		continuity: cm,
		kv:         kv,
		keys:       keys,
		jobCreator: jobCreator,
		agents:     caller,
		devices:    devices,
		sms:        sender,
	}
}

func turnFor(userID, sessionID, input string) models.TurnContext {
	return models.TurnContext{
		UserID:    userID,
		SessionID: sessionID,
		UserInput: input,
		Timestamp: time.Now(),
	}
}

func TestHandleTurnAsyncStoryIntent(t *testing.T) {
	fake := &scriptedLLM{classifyArgs: json.RawMessage(
		`{"intent_type":"create_story","story_type":"adventure","confidence":0.92}`)}
	f := newFixture(t, fake, map[string]*models.User{
		"u-1": {ID: "u-1", Age: 30, Tier: models.TierPremium},
	})

	result, err := f.orch.HandleTurn(context.Background(),
		turnFor("u-1", "s-1", "make me a pirate story"), "Mozilla/5.0", false)
	require.NoError(t, err)

	require.NotNil(t, result.Job)
	assert.Equal(t, "story-1", result.Job.StoryID)
	assert.Equal(t, 1, f.jobCreator.calls)
	assert.Equal(t, models.JobStoryGeneration, f.jobCreator.lastType)
	assert.Equal(t, "adventure", f.jobCreator.lastRequest["storyType"])
	assert.NotEmpty(t, result.Response.Text)

	// The turn lands in the saved context with the story pinned.
	cc, err := f.continuity.GetContext(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, "story-1", cc.CurrentStoryID)
	require.NotEmpty(t, cc.ConversationHistory)
	assert.Equal(t, "make me a pirate story",
		cc.ConversationHistory[len(cc.ConversationHistory)-1].UserInput)
}

func TestHandleTurnCrisisShortCircuit(t *testing.T) {
	fake := &scriptedLLM{classifyArgs: json.RawMessage(
		`{"intent_type":"greeting","confidence":0.9}`)}
	f := newFixture(t, fake, map[string]*models.User{
		"u-1": {ID: "u-1", Age: 9, Tier: models.TierFree},
	})

	result, err := f.orch.HandleTurn(context.Background(),
		turnFor("u-1", "s-1", "I want to hurt myself"), "Mozilla/5.0", false)
	require.NoError(t, err)

	require.NotNil(t, result.Crisis)
	assert.Equal(t, models.PhaseEmotionCheck, result.Phase)
	assert.Equal(t, 0, f.agents.calls)
	assert.Equal(t, 0, f.jobCreator.calls)

	// The raw disclosure never enters the history.
	cc, err := f.continuity.GetContext(context.Background(), "s-1")
	require.NoError(t, err)
	require.NotEmpty(t, cc.ConversationHistory)
	last := cc.ConversationHistory[len(cc.ConversationHistory)-1]
	assert.NotContains(t, last.UserInput, "hurt myself")
}

func TestHandleTurnConsentRequired(t *testing.T) {
	fake := &scriptedLLM{classifyArgs: json.RawMessage(
		`{"intent_type":"create_story","story_type":"adventure","confidence":0.92}`)}
	f := newFixture(t, fake, map[string]*models.User{
		"u-minor": {ID: "u-minor", Age: 9, Tier: models.TierFree},
	})

	_, err := f.orch.HandleTurn(context.Background(),
		turnFor("u-minor", "s-1", "make me a story"), "Mozilla/5.0", false)
	require.Error(t, err)
	assert.Equal(t, faults.KindConsentRequired, faults.KindOf(err))
	assert.Equal(t, 0, f.jobCreator.calls)
}

func TestHandleTurnQuotaRefusal(t *testing.T) {
	fake := &scriptedLLM{classifyArgs: json.RawMessage(
		`{"intent_type":"create_story","story_type":"adventure","confidence":0.92}`)}
	f := newFixture(t, fake, map[string]*models.User{
		"u-minor": {
			ID: "u-minor", Age: 9, Tier: models.TierFree,
			StoriesThisMonth: 50, ParentPhone: "+15550001111",
		},
	})
	require.NoError(t, f.kv.SetEx(context.Background(),
		f.keys.ParentConsent("u-minor"), time.Hour, []byte("verified")))

	result, err := f.orch.HandleTurn(context.Background(),
		turnFor("u-minor", "s-1", "one more story"), "Mozilla/5.0", false)
	require.NoError(t, err)

	require.NotNil(t, result.Quota)
	assert.False(t, result.Quota.Allowed)
	assert.True(t, result.Quota.VerificationRequired)
	assert.Equal(t, result.Quota.Message, result.Response.Text)
	assert.Equal(t, 0, f.jobCreator.calls)
	assert.Equal(t, 0, f.agents.calls)
	assert.Equal(t, 1, f.sms.count())
}

func TestHandleTurnSmartHomePayloadCarriesDevices(t *testing.T) {
	fake := &scriptedLLM{classifyArgs: json.RawMessage(
		`{"intent_type":"control_lights","confidence":0.9}`)}
	f := newFixture(t, fake, map[string]*models.User{
		"u-1": {ID: "u-1", Age: 30, Tier: models.TierPremium, SmartHomeConnected: true},
	})
	f.devices.devices = []store.SmartHomeDevice{
		{ID: "hue-1", DeviceType: "light", RoomID: "bedroom", ConnectionStatus: "online"},
		{ID: "hue-2", DeviceType: "light", RoomID: "playroom", ConnectionStatus: "offline"},
	}

	result, err := f.orch.HandleTurn(context.Background(),
		turnFor("u-1", "s-1", "dim the bedroom lights"), "Mozilla/5.0", false)
	require.NoError(t, err)

	assert.Equal(t, 1, f.devices.calls)
	assert.Equal(t, models.AgentSmartHome, f.agents.lastAgent)
	known, ok := f.agents.lastPayload["knownDevices"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, known, 2)
	assert.Equal(t, "hue-1", known[0]["id"])
	assert.Equal(t, "bedroom", known[0]["roomId"])
	assert.Equal(t, "here we go", result.Response.Text)
}

func TestHandleTurnUnknownUser(t *testing.T) {
	fake := &scriptedLLM{classifyArgs: json.RawMessage(
		`{"intent_type":"greeting","confidence":0.9}`)}
	f := newFixture(t, fake, map[string]*models.User{})

	_, err := f.orch.HandleTurn(context.Background(),
		turnFor("u-ghost", "s-1", "hello"), "Mozilla/5.0", false)
	require.Error(t, err)
	assert.Equal(t, faults.KindUnauthenticated, faults.KindOf(err))
}
