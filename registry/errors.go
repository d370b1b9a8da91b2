package registry

import "errors"

var (
	// ErrStoreUnavailable is returned when the anchor store rejects an add or
	// remove request. Local state is not rolled back.
	ErrStoreUnavailable = errors.New("anchor store unavailable")

	// ErrCorruptedRegistry is returned when durable registry data exists but
	// cannot be decoded.
	ErrCorruptedRegistry = errors.New("corrupted registry")

	// ErrOrphanedAnchor marks an anchor the store knows about but the engine
	// has no description for.
	ErrOrphanedAnchor = errors.New("orphaned anchor")

	// ErrPromptAbandoned is returned to callers waiting on a confirmation
	// prompt that was cancelled before the user answered.
	ErrPromptAbandoned = errors.New("conversion prompt abandoned")

	// ErrUnknownPrompt is returned when resolving a prompt that is no longer
	// outstanding.
	ErrUnknownPrompt = errors.New("unknown conversion prompt")

	// ErrEngineStopped is returned by engine operations after Run has exited.
	ErrEngineStopped = errors.New("engine stopped")
)
