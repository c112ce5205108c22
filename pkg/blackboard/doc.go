// Package blackboard provides type-safe Go definitions, Redis schema patterns
// and the versioned read/write API for the reelforge blackboard.
//
// # Overview
//
// The blackboard is the shared project state that every generation agent
// (script, storyboard, image, video and the budget "chef") reads and mutates.
// It implements the Blackboard architectural pattern: independent agents
// collaborate through one structured workspace instead of calling each other.
//
// # Core Concepts
//
// A Project is the root aggregate. It carries the global generation spec, the
// budget, the asset registry of reusable DNA, and the ordered episodes and
// shots of the storyboard.
//
// Every persisted mutation increments Project.Version by exactly one and
// appends an AuditEntry. Writes for one project are serialized through a
// distributed lock; reads are unlocked and served from a Redis cache that is
// invalidated before each write releases its lock.
//
// Redis is only a cache. The durable source of truth is a ProjectStore
// (see internal/store for the SQLite implementation).
//
// # Multi-Deployment Support
//
// All Redis keys are namespaced so that multiple reelforge deployments can
// share one Redis server without interference.
//
// # Usage Example
//
//	board, err := blackboard.NewBoard(rdb, sqliteStore, blackboard.Options{Namespace: "prod"})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	budget := blackboard.NewBudget(blackboard.NewMoney(135, "USD"))
//	spec := blackboard.GlobalSpec{QualityTier: blackboard.QualityHigh, DurationSeconds: 30}
//	if _, err := board.CreateProject(ctx, "proj-1", spec, budget); err != nil {
//		log.Fatal(err)
//	}
//
//	// Record spend; version becomes 2
//	p, err := board.AddCost(ctx, "proj-1", blackboard.NewMoney(90, "USD"), "image batch")
//
// # Error Handling
//
// Missing projects and shots are reported as *NotFoundError, matching
// ErrProjectNotFound or ErrShotNotFound via errors.Is. Lock contention
// surfaces as a *lock.LockAcquisitionError; IsRetryable reports it.
package blackboard
