package blackboard

import "fmt"

// Redis key pattern helpers
//
// All Redis keys are namespaced by deployment namespace so that several
// reelforge deployments can share a single Redis server.
//
// Key pattern: reelforge:{namespace}:{entity}:{id}

// ProjectCacheKey returns the Redis key of the cached project snapshot.
// Pattern: reelforge:{namespace}:project:{project_id}
func ProjectCacheKey(namespace, projectID string) string {
	return fmt.Sprintf("reelforge:%s:project:%s", namespace, projectID)
}

// RegistryCacheKey returns the Redis key of a project's cached asset registry.
// Pattern: reelforge:{namespace}:project:{project_id}:registry
func RegistryCacheKey(namespace, projectID string) string {
	return fmt.Sprintf("reelforge:%s:project:%s:registry", namespace, projectID)
}

// ProjectCacheKeys returns every cache key derived from a project.
// All of them are invalidated on each write.
func ProjectCacheKeys(namespace, projectID string) []string {
	return []string{
		ProjectCacheKey(namespace, projectID),
		RegistryCacheKey(namespace, projectID),
	}
}

// ProjectLockKey returns the Redis key of a project's distributed lock.
// Pattern: reelforge:{namespace}:lock:project:{project_id}
func ProjectLockKey(namespace, projectID string) string {
	return fmt.Sprintf("reelforge:%s:lock:project:%s", namespace, projectID)
}

// EventStreamKey returns the Redis stream carrying generation events.
// Pattern: reelforge:{namespace}:stream:{stream}
func EventStreamKey(namespace, stream string) string {
	return fmt.Sprintf("reelforge:%s:stream:%s", namespace, stream)
}

// VectorKey returns the Redis hash storing one indexed vector.
// Pattern: reelforge:{namespace}:vector:{series_id}:{entity_id}
func VectorKey(namespace, seriesID, entityID string) string {
	return fmt.Sprintf("reelforge:%s:vector:%s:%s", namespace, seriesID, entityID)
}

// VectorSeriesKey returns the Redis set of entity IDs indexed for a series.
// Pattern: reelforge:{namespace}:vector_series:{series_id}
func VectorSeriesKey(namespace, seriesID string) string {
	return fmt.Sprintf("reelforge:%s:vector_series:%s", namespace, seriesID)
}
