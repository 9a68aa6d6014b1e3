// Package dedup decides whether a discovered candidate is new.
//
// The Checker composes independent predicates in a fixed order: external id
// and normalized title against the knowledge base and the active tasks, the
// derived filename against active tasks, and finally the in-memory session
// cache. The session check reserves the candidate's keys atomically, so the
// reservation exists before any task is created.
package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/helixir/paper-radar-service/internal/domain"
)

// KnowledgeStore looks up papers already in the knowledge base.
// Both methods return domain.ErrNotFound (possibly wrapped) when nothing matches.
type KnowledgeStore interface {
	FindByExternalID(ctx context.Context, externalID string) (*domain.KnowledgeRecord, error)
	FindByNormalizedTitle(ctx context.Context, normalizedTitle string) (*domain.KnowledgeRecord, error)
}

// TaskStore looks up tasks in a non-terminal state.
// Methods return domain.ErrNotFound (possibly wrapped) when nothing matches.
type TaskStore interface {
	FindActiveByExternalID(ctx context.Context, externalID string) (*domain.Task, error)
	FindActiveByNormalizedTitle(ctx context.Context, normalizedTitle string) (*domain.Task, error)
	FindActiveByFilename(ctx context.Context, filename string) (*domain.Task, error)
}

// Check names, in evaluation order. They label rejection metrics.
const (
	CheckKnowledgeExternalID = "kb_external_id"
	CheckTaskExternalID      = "task_external_id"
	CheckKnowledgeTitle      = "kb_title"
	CheckTaskTitle           = "task_title"
	CheckTaskFilename        = "task_filename"
	CheckSession             = "session_cache"
)

// Identity is the set of keys a candidate is checked under.
type Identity struct {
	ExternalID      string
	NormalizedTitle string
	Filename        string
}

// IdentityOf derives the identity of a candidate.
func IdentityOf(c domain.Candidate) Identity {
	id := Identity{
		ExternalID:      c.ExternalID,
		NormalizedTitle: c.NormalizedTitle(),
	}
	if id.NormalizedTitle != "" {
		id.Filename = domain.DeriveFilename(c.Title)
	}
	return id
}

// Keys returns the session cache keys of the identity.
func (id Identity) Keys() []string {
	return IdentityKeys(id.ExternalID, id.NormalizedTitle, id.Filename)
}

// CheckResult contains the outcome of a duplicate check for a single candidate.
type CheckResult struct {
	// IsDuplicate indicates the candidate matched an existing record.
	IsDuplicate bool

	// MatchedBy names the check that matched. Empty when not duplicate.
	MatchedBy string

	// DuplicateOf identifies the matching record (knowledge record or task id)
	// when the match came from a store.
	DuplicateOf string

	// Keys are the session keys reserved for an admitted candidate. Pass them
	// to Release if the admission is abandoned.
	Keys []string
}

// predicate is one independent duplicate check.
type predicate struct {
	name  string
	match func(ctx context.Context, id Identity) (string, bool, error)
}

// Checker runs the duplicate checks. It is safe for concurrent use.
type Checker struct {
	cache      *SessionCache
	predicates []predicate
}

// NewChecker creates a Checker. kb and tasks may be nil, which disables the
// corresponding checks.
func NewChecker(kb KnowledgeStore, tasks TaskStore, cache *SessionCache) *Checker {
	if cache == nil {
		cache = NewSessionCache(DefaultSessionCacheSize)
	}
	c := &Checker{cache: cache}

	if kb != nil {
		c.predicates = append(c.predicates, predicate{CheckKnowledgeExternalID, func(ctx context.Context, id Identity) (string, bool, error) {
			if id.ExternalID == "" {
				return "", false, nil
			}
			return knowledgeMatch(kb.FindByExternalID(ctx, id.ExternalID))
		}})
	}
	if tasks != nil {
		c.predicates = append(c.predicates, predicate{CheckTaskExternalID, func(ctx context.Context, id Identity) (string, bool, error) {
			if id.ExternalID == "" {
				return "", false, nil
			}
			return taskMatch(tasks.FindActiveByExternalID(ctx, id.ExternalID))
		}})
	}
	if kb != nil {
		c.predicates = append(c.predicates, predicate{CheckKnowledgeTitle, func(ctx context.Context, id Identity) (string, bool, error) {
			if id.NormalizedTitle == "" {
				return "", false, nil
			}
			return knowledgeMatch(kb.FindByNormalizedTitle(ctx, id.NormalizedTitle))
		}})
	}
	if tasks != nil {
		c.predicates = append(c.predicates,
			predicate{CheckTaskTitle, func(ctx context.Context, id Identity) (string, bool, error) {
				if id.NormalizedTitle == "" {
					return "", false, nil
				}
				return taskMatch(tasks.FindActiveByNormalizedTitle(ctx, id.NormalizedTitle))
			}},
			predicate{CheckTaskFilename, func(ctx context.Context, id Identity) (string, bool, error) {
				if id.Filename == "" {
					return "", false, nil
				}
				return taskMatch(tasks.FindActiveByFilename(ctx, id.Filename))
			}},
		)
	}
	return c
}

// Check decides whether the candidate is new. A candidate that passes every
// store check has its keys reserved in the session cache before Check
// returns; a concurrent Check for the same paper then reports a session
// duplicate. An error from a store aborts the check without reserving.
func (c *Checker) Check(ctx context.Context, cand domain.Candidate) (*CheckResult, error) {
	id := IdentityOf(cand)
	keys := id.Keys()
	if len(keys) == 0 {
		return nil, domain.NewValidationError("candidate", "no identity to deduplicate on")
	}

	// Cheap early exit; the authoritative session check is the Reserve below.
	if c.cache.Contains(keys...) {
		return &CheckResult{IsDuplicate: true, MatchedBy: CheckSession}, nil
	}

	for _, p := range c.predicates {
		ref, matched, err := p.match(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("dedup check %s: %w", p.name, err)
		}
		if matched {
			return &CheckResult{IsDuplicate: true, MatchedBy: p.name, DuplicateOf: ref}, nil
		}
	}

	if !c.cache.Reserve(keys...) {
		return &CheckResult{IsDuplicate: true, MatchedBy: CheckSession}, nil
	}
	return &CheckResult{Keys: keys}, nil
}

// Remember records the identity of work admitted outside discovery (uploads)
// so a later scan does not admit the same paper.
func (c *Checker) Remember(id Identity) {
	c.cache.Add(id.Keys()...)
}

// Release drops a reservation made by Check.
func (c *Checker) Release(keys []string) {
	c.cache.Release(keys...)
}

// Cache returns the underlying session cache.
func (c *Checker) Cache() *SessionCache {
	return c.cache
}

func knowledgeMatch(rec *domain.KnowledgeRecord, err error) (string, bool, error) {
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if rec == nil {
		return "", false, nil
	}
	return rec.ID.String(), true, nil
}

func taskMatch(task *domain.Task, err error) (string, bool, error) {
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if task == nil {
		return "", false, nil
	}
	return task.ID.String(), true, nil
}
