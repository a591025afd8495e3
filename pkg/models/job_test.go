package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssetGenerationStatus(t *testing.T) {
	status := NewAssetGenerationStatus()

	require.Len(t, status.Assets, len(RequiredAssets))
	assert.Equal(t, OverallGenerating, status.Overall)
	assert.Equal(t, AssetGenerating, status.Assets[AssetContent].Status)
	for _, at := range RequiredAssets[1:] {
		assert.Equal(t, AssetQueued, status.Assets[at].Status, "asset %s", at)
	}
}

func TestRecomputeOverall(t *testing.T) {
	setAll := func(s *AssetGenerationStatus, st AssetJobStatus) {
		for _, at := range RequiredAssets {
			s.Assets[at] = AssetEntry{Status: st}
		}
	}

	t.Run("all ready", func(t *testing.T) {
		s := NewAssetGenerationStatus()
		setAll(&s, AssetReady)
		s.RecomputeOverall()
		assert.Equal(t, OverallReady, s.Overall)
	})

	t.Run("all failed", func(t *testing.T) {
		s := NewAssetGenerationStatus()
		setAll(&s, AssetFailed)
		s.RecomputeOverall()
		assert.Equal(t, OverallFailed, s.Overall)
	})

	t.Run("one failed rest ready is partial", func(t *testing.T) {
		s := NewAssetGenerationStatus()
		setAll(&s, AssetReady)
		s.Assets[AssetAudio] = AssetEntry{Status: AssetFailed}
		s.RecomputeOverall()
		assert.Equal(t, OverallPartial, s.Overall)
	})

	t.Run("anything pending stays generating", func(t *testing.T) {
		s := NewAssetGenerationStatus()
		setAll(&s, AssetReady)
		s.Assets[AssetPDF] = AssetEntry{Status: AssetGenerating}
		s.RecomputeOverall()
		assert.Equal(t, OverallGenerating, s.Overall)
	})
}

func TestSetAssetRecomputes(t *testing.T) {
	s := NewAssetGenerationStatus()
	for _, at := range RequiredAssets {
		s.SetAsset(at, AssetEntry{Status: AssetReady})
	}
	assert.Equal(t, OverallReady, s.Overall)
}

func TestMaxRetries(t *testing.T) {
	assert.Equal(t, 2, MaxRetries(AssetCover))
	assert.Equal(t, 1, MaxRetries(AssetScene1))
	assert.Equal(t, 1, MaxRetries(AssetScene4))
	assert.Equal(t, 0, MaxRetries(AssetContent))
	assert.Equal(t, 0, MaxRetries(AssetAudio))
	assert.Equal(t, 0, MaxRetries(AssetPDF))
}

func TestAsyncJobStatusTerminal(t *testing.T) {
	assert.True(t, AsyncJobReady.Terminal())
	assert.True(t, AsyncJobFailed.Terminal())
	assert.False(t, AsyncJobPending.Terminal())
	assert.False(t, AsyncJobProcessing.Terminal())
}
