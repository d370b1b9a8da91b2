package registry

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Session ties the engine, the prompt board and durable storage to the
// lifetime of one app run.
type Session struct {
	Engine   *Engine
	Prompts  *PromptBoard
	Registry *RegistryStore
	logger   *zap.Logger

	// holdSaves is set when a corrupted registry could not be copied aside;
	// saving would overwrite the only copy.
	holdSaves bool
}

// NewSession groups the session collaborators.
func NewSession(engine *Engine, prompts *PromptBoard, registry *RegistryStore, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{Engine: engine, Prompts: prompts, Registry: registry, logger: logger.Named("session")}
}

// Load reads the saved registry and preloads the engine. A corrupted
// registry is reported but leaves the engine usable with no saved records.
// Its bytes are copied aside first; if that fails, later saves are refused
// until the registry is repaired.
func (s *Session) Load(ctx context.Context) error {
	records, err := s.Registry.LoadAll(ctx)
	if err != nil {
		if errors.Is(err, ErrCorruptedRegistry) {
			s.logger.Error("saved registry unreadable, starting empty", zap.Error(err))
			if _, qerr := s.Registry.Quarantine(ctx); qerr != nil {
				s.holdSaves = true
				s.logger.Error("corrupted registry kept in place, saves disabled", zap.Error(qerr))
			}
		}
		return err
	}
	return s.Engine.Preload(records)
}

// Suspend writes the durable snapshot. Called when the app loses the
// foreground and on shutdown.
func (s *Session) Suspend(ctx context.Context) error {
	if s.holdSaves {
		return fmt.Errorf("%w: %q left untouched until repaired", ErrCorruptedRegistry, s.Registry.Key())
	}
	records, err := s.Engine.DurableSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	return s.Registry.SaveAll(ctx, records)
}

// Reset abandons outstanding prompts and removes every record.
func (s *Session) Reset(ctx context.Context) error {
	if n := s.Prompts.CancelAll(); n > 0 {
		s.logger.Info("prompts cancelled by reset", zap.Int("count", n))
	}
	return s.Engine.ResetAll(ctx)
}

// Close declines outstanding prompts and saves the registry. The engine must
// still be running.
func (s *Session) Close(ctx context.Context) error {
	s.Prompts.Close()
	if err := s.Suspend(ctx); err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	return nil
}
