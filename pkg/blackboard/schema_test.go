package blackboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyPatterns(t *testing.T) {
	assert.Equal(t, "reelforge:prod:project:p1", ProjectCacheKey("prod", "p1"))
	assert.Equal(t, "reelforge:prod:project:p1:registry", RegistryCacheKey("prod", "p1"))
	assert.Equal(t, "reelforge:prod:lock:project:p1", ProjectLockKey("prod", "p1"))
	assert.Equal(t, "reelforge:prod:stream:generation_events", EventStreamKey("prod", "generation_events"))
	assert.Equal(t, "reelforge:prod:vector:s1:hero", VectorKey("prod", "s1", "hero"))
	assert.Equal(t, "reelforge:prod:vector_series:s1", VectorSeriesKey("prod", "s1"))
}

func TestKeysAreNamespaced(t *testing.T) {
	assert.NotEqual(t, ProjectCacheKey("a", "p1"), ProjectCacheKey("b", "p1"))
	assert.ElementsMatch(t,
		[]string{ProjectCacheKey("a", "p1"), RegistryCacheKey("a", "p1")},
		ProjectCacheKeys("a", "p1"))
}
