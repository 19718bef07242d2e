// Package thread groups communications into conversations.
//
// A thread id is minted once and never changes. Linking runs at ingestion
// and follows, in order: reply ancestry, platform-native thread ids scoped
// to the same participants, and finally a fresh id.
package thread

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"sync"
	"time"

	"commhub/internal/comms/models"
	"commhub/pkg/domain"
	"commhub/pkg/platform/sentinel"
	"commhub/pkg/requestcontext"

	"github.com/oklog/ulid/v2"
)

// Lookup is the slice of the communications store the linker reads.
type Lookup interface {
	FindByPlatformMessageID(ctx context.Context, platform domain.Platform, messageID string, includeDeleted bool) (*models.Communication, error)
	Find(ctx context.Context, id domain.CommunicationID) (*models.Communication, error)
	ListByPlatformThreadID(ctx context.Context, platform domain.Platform, platformThreadID string) ([]*models.Communication, error)
}

type Linker struct {
	lookup Lookup
	log    *slog.Logger

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewLinker(lookup Lookup, log *slog.Logger) *Linker {
	return &Linker{
		lookup:  lookup,
		log:     log,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Assign fills c.ThreadID. The communication is not yet persisted; the
// caller stores it with whatever thread the linker picked.
//
// Reply ancestry wins over platform thread ids, and a soft-deleted ancestor
// still donates its thread so a restored conversation reads whole.
func (l *Linker) Assign(ctx context.Context, c *models.Communication) error {
	if c.ThreadID != "" {
		return nil
	}

	if parent, err := l.findParent(ctx, c); err != nil {
		return err
	} else if parent != nil {
		c.ThreadID = parent.ThreadID
		return nil
	}

	if c.PlatformThreadID != "" {
		sibling, err := l.findSibling(ctx, c)
		if err != nil {
			return err
		}
		if sibling != nil {
			c.ThreadID = sibling.ThreadID
			return nil
		}
	}

	c.ThreadID = l.Mint(requestcontext.Now(ctx))
	return nil
}

// findParent resolves the message this one replies to, deleted or not.
func (l *Linker) findParent(ctx context.Context, c *models.Communication) (*models.Communication, error) {
	if c.ReplyTo != nil {
		parent, err := l.lookup.Find(ctx, *c.ReplyTo)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				l.log.WarnContext(ctx, "reply target not found",
					slog.String("communication_id", c.ID.String()))
				return nil, nil
			}
			return nil, err
		}
		return parent, nil
	}

	if email := c.Metadata.Email; email != nil && email.InReplyTo != "" {
		parent, err := l.lookup.FindByPlatformMessageID(ctx, c.Platform, email.InReplyTo, true)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		c.ReplyTo = &parent.ID
		return parent, nil
	}
	return nil, nil
}

// findSibling matches the platform-native thread id against prior
// communications sharing a resolved participant. Without the participant
// check, reused channel ids on chat platforms would glue unrelated
// conversations together.
func (l *Linker) findSibling(ctx context.Context, c *models.Communication) (*models.Communication, error) {
	siblings, err := l.lookup.ListByPlatformThreadID(ctx, c.Platform, c.PlatformThreadID)
	if err != nil {
		return nil, err
	}
	for _, sibling := range siblings {
		if sibling.ID == c.ID {
			continue
		}
		if sibling.SharesParticipant(c) {
			return sibling, nil
		}
	}
	// No resolved participants to compare against: trust the platform's id.
	if len(siblings) > 0 && len(c.Participants()) == 0 {
		return siblings[0], nil
	}
	return nil, nil
}

// Mint issues a new conversation id. ULIDs sort by creation time so thread
// listings need no extra ordering column.
func (l *Linker) Mint(now time.Time) domain.ThreadID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.ThreadID(ulid.MustNew(ulid.Timestamp(now), l.entropy).String())
}
