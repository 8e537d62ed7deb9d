package index

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/danfs-crawler/internal/crawler"
	"github.com/JakeFAU/danfs-crawler/internal/progress"
)

// WalkerConfig holds the behaviour shared by both walkers.
type WalkerConfig struct {
	// FailFast aborts the walk on the first branch error instead of
	// abandoning the branch and continuing.
	FailFast bool
	Logger   *zap.Logger
	Emitter  progress.Emitter
}

func (c WalkerConfig) withDefaults() WalkerConfig {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Emitter == nil {
		c.Emitter = progress.Discard
	}
	return c
}

// NewWalker returns the walker matching the collection kind.
func NewWalker(client *Client, coll crawler.Collection, cfg WalkerConfig) (crawler.Walker, error) {
	if client == nil {
		return nil, errors.New("index client is required")
	}
	switch coll.Kind {
	case crawler.KindPrimary:
		return NewPrimaryWalker(client, cfg), nil
	case crawler.KindSecondary:
		return NewSecondaryWalker(client, cfg), nil
	default:
		return nil, fmt.Errorf("collection %q: unknown kind %q", coll.Name, coll.Kind)
	}
}

// branchPolicy records abandoned branches and decides whether the walk goes on.
type branchPolicy struct {
	cfg  WalkerConfig
	errs []error
}

// fail reports err for a branch. It returns a non-nil error when the walk
// must stop: always for a fatal call, otherwise only in fail-fast mode.
func (b *branchPolicy) fail(err error, fatal bool, fields ...zap.Field) error {
	evt := progress.Event{Stage: progress.StageIndexError, Note: err.Error()}
	var ierr *crawler.IndexError
	if errors.As(err, &ierr) {
		evt.URL = ierr.URL
		evt.StatusCode = ierr.StatusCode
	}
	b.cfg.Emitter.Emit(evt)
	if fatal || b.cfg.FailFast {
		return err
	}
	b.cfg.Logger.Warn("index branch abandoned", append(fields, zap.Error(err))...)
	b.errs = append(b.errs, err)
	return nil
}

func (b *branchPolicy) result() error {
	return errors.Join(b.errs...)
}

// send forwards stubs onto out in order, honouring cancellation.
func send(ctx context.Context, out chan<- crawler.EntityStub, stubs []crawler.EntityStub) error {
	for _, stub := range stubs {
		select {
		case out <- stub:
		case <-ctx.Done():
			return fmt.Errorf("send stub: %w", ctx.Err())
		}
	}
	return nil
}

// PrimaryWalker enumerates groups, then subgroups, then ship lists.
type PrimaryWalker struct {
	client *Client
	cfg    WalkerConfig
}

// NewPrimaryWalker builds a walker for the three-level groups API.
func NewPrimaryWalker(client *Client, cfg WalkerConfig) *PrimaryWalker {
	return &PrimaryWalker{client: client, cfg: cfg.withDefaults()}
}

// Discover implements crawler.Walker. A failed groups list is fatal; failed
// subgroup or ship-list calls abandon their branch unless FailFast is set,
// and are returned joined once the walk completes.
func (w *PrimaryWalker) Discover(ctx context.Context, out chan<- crawler.EntityStub) error {
	ctx, span := tracer.Start(ctx, "index.DiscoverPrimary")
	defer span.End()

	policy := &branchPolicy{cfg: w.cfg}
	groups, err := w.client.Groups(ctx)
	if err != nil {
		return policy.fail(err, true)
	}
	span.SetAttributes(attribute.Int("index.groups", len(groups)))

	for _, group := range groups {
		subs, err := w.client.SubGroups(ctx, group)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("discover: %w", ctx.Err())
			}
			if stop := policy.fail(err, false, zap.String("group", group.Key)); stop != nil {
				return stop
			}
			continue
		}
		for _, sub := range subs {
			if sub.IsEmpty {
				continue
			}
			stubs, err := w.client.SubGroupShips(ctx, sub)
			if err != nil {
				if ctx.Err() != nil {
					return fmt.Errorf("discover: %w", ctx.Err())
				}
				stop := policy.fail(err, false,
					zap.String("group", group.Key),
					zap.String("range", sub.Range()),
				)
				if stop != nil {
					return stop
				}
				continue
			}
			if err := send(ctx, out, stubs); err != nil {
				return err
			}
		}
	}
	return policy.result()
}

// SecondaryWalker enumerates letter ranges, then paged listings.
type SecondaryWalker struct {
	client *Client
	cfg    WalkerConfig
}

// NewSecondaryWalker builds a walker for the two-level rollup API.
func NewSecondaryWalker(client *Client, cfg WalkerConfig) *SecondaryWalker {
	return &SecondaryWalker{client: client, cfg: cfg.withDefaults()}
}

// Discover implements crawler.Walker with the same failure policy as
// PrimaryWalker: the ranges call is fatal, page calls are per branch.
func (w *SecondaryWalker) Discover(ctx context.Context, out chan<- crawler.EntityStub) error {
	ctx, span := tracer.Start(ctx, "index.DiscoverSecondary")
	defer span.End()

	policy := &branchPolicy{cfg: w.cfg}
	ranges, err := w.client.Ranges(ctx)
	if err != nil {
		return policy.fail(err, true)
	}
	span.SetAttributes(attribute.Int("index.ranges", len(ranges)))

	for _, r := range ranges {
		if r.IsEmpty {
			continue
		}
		stubs, err := w.client.Pages(ctx, r)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("discover: %w", ctx.Err())
			}
			if stop := policy.fail(err, false, zap.Int("offset", r.Offset), zap.Int("limit", r.Limit)); stop != nil {
				return stop
			}
			continue
		}
		if err := send(ctx, out, stubs); err != nil {
			return err
		}
	}
	return policy.result()
}
