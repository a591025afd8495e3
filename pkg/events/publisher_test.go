package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoryTopic(t *testing.T) {
	assert.Equal(t, "stories:id=0b5e7c9a-1f7a-4a7e-9a11-8f4f6f1a2b3c",
		StoryTopic("0b5e7c9a-1f7a-4a7e-9a11-8f4f6f1a2b3c"))
}

func TestStorySubscribePattern(t *testing.T) {
	got := StorySubscribePattern("story-1")
	assert.Equal(t, SubscribePattern{
		Table:  "stories",
		Filter: "id=eq.story-1",
		Event:  "UPDATE",
	}, got)
}
