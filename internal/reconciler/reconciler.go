package reconciler

import (
	"context"
	"errors"
	"hash/fnv"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"messaging-service/internal/cache"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

// RoomCloser lets the reconciler tell the gateway a conversation is gone.
type RoomCloser interface {
	CloseRoom(conversationID int64)
}

// Reconciler consumes group lifecycle notifications and converges group
// conversation membership with the external roster. Events are partitioned
// by group ref onto a fixed set of workers, so each group's events apply in
// order while different groups proceed concurrently. Every handler is
// idempotent and tolerates redelivery and reordering.
type Reconciler struct {
	convRepo repositories.ConversationRepository
	store    cache.Store
	rooms    RoomCloser

	workers []chan job
	wg      sync.WaitGroup
}

type job struct {
	event    models.LifecycleEvent
	delivery amqp.Delivery
}

// New constructs a Reconciler with the given worker count.
func New(convRepo repositories.ConversationRepository, store cache.Store, rooms RoomCloser, workers int) *Reconciler {
	if workers < 1 {
		workers = 1
	}
	r := &Reconciler{
		convRepo: convRepo,
		store:    store,
		rooms:    rooms,
		workers:  make([]chan job, workers),
	}
	for i := range r.workers {
		r.workers[i] = make(chan job, 64)
	}
	return r
}

// Run consumes deliveries until the channel closes or the context is
// cancelled. Malformed and failing events are logged, counted, and acked so
// one poison message cannot wedge its group's ordered stream.
func (r *Reconciler) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for i := range r.workers {
		r.wg.Add(1)
		go r.worker(ctx, r.workers[i])
	}

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		case d, ok := <-deliveries:
			if !ok {
				r.shutdown()
				return
			}
			event, err := models.DecodeLifecycleEvent(d.RoutingKey, d.Body)
			if err != nil {
				log.Printf("lifecycle event skipped: %v", err)
				observability.IncLifecycleEvent(d.RoutingKey, "skipped")
				_ = d.Ack(false)
				continue
			}
			r.workers[r.partition(event.GroupRef)] <- job{event: event, delivery: d}
		}
	}
}

func (r *Reconciler) shutdown() {
	for i := range r.workers {
		close(r.workers[i])
	}
	r.wg.Wait()
}

func (r *Reconciler) partition(groupRef string) int {
	h := fnv.New32a()
	h.Write([]byte(groupRef))
	return int(h.Sum32() % uint32(len(r.workers)))
}

func (r *Reconciler) worker(ctx context.Context, jobs <-chan job) {
	defer r.wg.Done()
	for j := range jobs {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					log.Printf("lifecycle handler panic recovered: %v", rec)
					observability.IncLifecycleEvent(j.event.Kind.String(), "failed")
				}
			}()
			if err := r.Apply(ctx, j.event); err != nil {
				log.Printf("lifecycle %s for group %s failed (skipped): %v", j.event.Kind, j.event.GroupRef, err)
				observability.IncLifecycleEvent(j.event.Kind.String(), "failed")
			} else {
				observability.IncLifecycleEvent(j.event.Kind.String(), "applied")
			}
		}()
		_ = j.delivery.Ack(false)
	}
}

// Apply converges state for a single lifecycle event.
func (r *Reconciler) Apply(ctx context.Context, event models.LifecycleEvent) error {
	switch event.Kind {
	case models.GroupCreated:
		return r.applyMemberEnsure(ctx, event)
	case models.GroupMemberAdded:
		// member-added before group-created is tolerated: it ensures the
		// conversation itself.
		return r.applyMemberEnsure(ctx, event)
	case models.GroupMemberRemoved:
		return r.applyMemberRemoved(ctx, event)
	case models.GroupDisbanded:
		return r.applyDisbanded(ctx, event)
	}
	return nil
}

func (r *Reconciler) applyMemberEnsure(ctx context.Context, event models.LifecycleEvent) error {
	conv, err := r.convRepo.EnsureGroupConversation(ctx, event.GroupRef, event.ClassRef)
	if err != nil {
		return err
	}
	_, err = r.convRepo.AddMember(ctx, conv.ID, event.UserID)
	return err
}

func (r *Reconciler) applyMemberRemoved(ctx context.Context, event models.LifecycleEvent) error {
	conv, err := r.convRepo.GetGroupConversation(ctx, event.GroupRef)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		// Removal against a conversation that does not exist yet is a no-op.
		return nil
	}
	if err != nil {
		return err
	}

	removed, err := r.convRepo.RemoveMember(ctx, conv.ID, event.UserID)
	if err != nil {
		return err
	}
	if removed {
		if err := r.store.ClearUserConversation(ctx, event.UserID, conv.ID); err != nil {
			log.Printf("cache cleanup for removed member failed (degraded): %v", err)
			observability.IncCacheSoftFailure("clear_user_conversation")
		}
	}
	return nil
}

func (r *Reconciler) applyDisbanded(ctx context.Context, event models.LifecycleEvent) error {
	conv, memberIDs, err := r.convRepo.DeleteGroupConversation(ctx, event.GroupRef)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if r.rooms != nil {
		r.rooms.CloseRoom(conv.ID)
	}
	if err := r.store.ClearConversation(ctx, conv.ID, memberIDs); err != nil {
		log.Printf("cache cleanup for disbanded group failed (degraded): %v", err)
		observability.IncCacheSoftFailure("clear_conversation")
	}
	return nil
}
