package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messaging-service/internal/models"
)

const conversationColumns = `id, kind, class_ref, group_ref, direct_key, created_at`

// ConversationRepository is the Conversation Directory: the sole writer of
// conversation and membership rows.
type ConversationRepository interface {
	FindOrCreateDirect(ctx context.Context, userA, userB int64) (models.Conversation, bool, error)
	CreateClassConversation(ctx context.Context, classRef string, memberIDs []int64) (models.Conversation, error)
	ListForUser(ctx context.Context, userID int64, limit int) ([]models.ConversationSummary, error)
	GetGroupConversationForUser(ctx context.Context, groupRef string, userID int64) (models.Conversation, error)
	IsMember(ctx context.Context, conversationID, userID int64) (bool, error)
	MemberIDs(ctx context.Context, conversationID int64) ([]int64, error)

	// Reconciliation primitives, called only by the membership sync consumer.
	GetGroupConversation(ctx context.Context, groupRef string) (models.Conversation, error)
	EnsureGroupConversation(ctx context.Context, groupRef, classRef string) (models.Conversation, error)
	AddMember(ctx context.Context, conversationID, userID int64) (bool, error)
	RemoveMember(ctx context.Context, conversationID, userID int64) (bool, error)
	DeleteGroupConversation(ctx context.Context, groupRef string) (models.Conversation, []int64, error)
	ReconcileGroupMembership(ctx context.Context, groupRef, classRef string, desired []int64) (models.Conversation, []int64, []int64, bool, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

func directKey(userA, userB int64) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return fmt.Sprintf("%d:%d", userA, userB)
}

// FindOrCreateDirect returns the direct conversation for the unordered user
// pair, creating it with both members if absent. Concurrent calls for the
// same pair resolve through the direct_key unique constraint: the loser's
// insert affects no row and the winner's row is re-read inside the
// transaction.
func (r *ConversationRepo) FindOrCreateDirect(ctx context.Context, userA, userB int64) (models.Conversation, bool, error) {
	if userA == userB {
		return models.Conversation{}, false, ErrSelfConversation
	}
	key := directKey(userA, userB)

	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE direct_key=$1`, key)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, false, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, false, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	created := true
	err = tx.GetContext(ctx, &conv, `INSERT INTO conversations (kind, direct_key) VALUES ($1, $2)
        ON CONFLICT (direct_key) DO NOTHING
        RETURNING `+conversationColumns, models.KindDirect, key)
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the race: reuse the winner's row.
		created = false
		err = tx.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE direct_key=$1`, key)
	}
	if err != nil {
		return models.Conversation{}, false, err
	}

	for _, userID := range []int64{userA, userB} {
		if _, err = tx.ExecContext(ctx, `INSERT INTO conversation_members (conversation_id, user_id) VALUES ($1, $2)
            ON CONFLICT (conversation_id, user_id) DO NOTHING`, conv.ID, userID); err != nil {
			return models.Conversation{}, false, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Conversation{}, false, err
	}
	return conv, created, nil
}

// CreateClassConversation creates a class-wide conversation and its initial
// members atomically.
func (r *ConversationRepo) CreateClassConversation(ctx context.Context, classRef string, memberIDs []int64) (models.Conversation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var conv models.Conversation
	if err = tx.GetContext(ctx, &conv, `INSERT INTO conversations (kind, class_ref) VALUES ($1, $2)
        RETURNING `+conversationColumns, models.KindClass, classRef); err != nil {
		return models.Conversation{}, err
	}

	for _, userID := range memberIDs {
		if _, err = tx.ExecContext(ctx, `INSERT INTO conversation_members (conversation_id, user_id) VALUES ($1, $2)
            ON CONFLICT (conversation_id, user_id) DO NOTHING`, conv.ID, userID); err != nil {
			return models.Conversation{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// ListForUser returns the user's conversations ordered by most recent
// activity, each annotated with member ids and the latest message. Unread
// counts live in the cache and are joined by the caller.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID int64, limit int) ([]models.ConversationSummary, error) {
	var convs []models.Conversation
	query := `SELECT c.id, c.kind, c.class_ref, c.group_ref, c.direct_key, c.created_at
        FROM conversations c
        JOIN conversation_members m ON m.conversation_id = c.id AND m.user_id = $1
        LEFT JOIN LATERAL (
            SELECT created_at FROM messages WHERE conversation_id = c.id ORDER BY created_at DESC LIMIT 1
        ) lm ON TRUE
        ORDER BY COALESCE(lm.created_at, c.created_at) DESC
        LIMIT $2`
	if err := r.db.SelectContext(ctx, &convs, query, userID, limit); err != nil {
		return nil, err
	}
	if len(convs) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}

	membersByConv, err := r.membersForConversations(ctx, ids)
	if err != nil {
		return nil, err
	}
	lastByConv, err := r.lastMessages(ctx, ids)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.ConversationSummary, 0, len(convs))
	for _, c := range convs {
		summary := models.ConversationSummary{Conversation: c, MemberIDs: membersByConv[c.ID]}
		if msg, ok := lastByConv[c.ID]; ok {
			last := msg
			summary.LastMessage = &last
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (r *ConversationRepo) membersForConversations(ctx context.Context, conversationIDs []int64) (map[int64][]int64, error) {
	rows, err := r.db.QueryxContext(ctx, `SELECT conversation_id, user_id FROM conversation_members
        WHERE conversation_id = ANY($1) ORDER BY user_id`, pq.Array(conversationIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int64][]int64, len(conversationIDs))
	for rows.Next() {
		var convID, userID int64
		if err := rows.Scan(&convID, &userID); err != nil {
			return nil, err
		}
		result[convID] = append(result[convID], userID)
	}
	return result, rows.Err()
}

func (r *ConversationRepo) lastMessages(ctx context.Context, conversationIDs []int64) (map[int64]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT DISTINCT ON (conversation_id)
            id, conversation_id, sender_id, body, created_at
        FROM messages
        WHERE conversation_id = ANY($1)
        ORDER BY conversation_id, created_at DESC`, pq.Array(conversationIDs))
	if err != nil {
		return nil, err
	}
	result := make(map[int64]models.Message, len(msgs))
	for _, m := range msgs {
		result[m.ConversationID] = m
	}
	return result, nil
}

// GetGroupConversationForUser returns the group conversation only if the
// user is a member. Non-members get the same not-found as an absent group so
// existence never leaks.
func (r *ConversationRepo) GetGroupConversationForUser(ctx context.Context, groupRef string, userID int64) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT c.id, c.kind, c.class_ref, c.group_ref, c.direct_key, c.created_at
        FROM conversations c
        JOIN conversation_members m ON m.conversation_id = c.id AND m.user_id = $2
        WHERE c.group_ref = $1`, groupRef, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// IsMember checks whether a user belongs to the conversation.
func (r *ConversationRepo) IsMember(ctx context.Context, conversationID, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM conversation_members WHERE conversation_id=$1 AND user_id=$2)`, conversationID, userID)
	return exists, err
}

// MemberIDs returns every member of the conversation.
func (r *ConversationRepo) MemberIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM conversation_members WHERE conversation_id=$1 ORDER BY user_id`, conversationID)
	return ids, err
}

// GetGroupConversation fetches the conversation tied to an external group
// ref regardless of membership. Reconciliation-only; member-facing reads go
// through GetGroupConversationForUser.
func (r *ConversationRepo) GetGroupConversation(ctx context.Context, groupRef string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE group_ref=$1`, groupRef)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// EnsureGroupConversation creates the group conversation for the external
// group ref if absent and returns it either way. The group_ref unique
// constraint makes concurrent ensures converge on one row.
func (r *ConversationRepo) EnsureGroupConversation(ctx context.Context, groupRef, classRef string) (models.Conversation, error) {
	classVal := sql.NullString{String: classRef, Valid: classRef != ""}

	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `INSERT INTO conversations (kind, group_ref, class_ref) VALUES ($1, $2, $3)
        ON CONFLICT (group_ref) DO NOTHING
        RETURNING `+conversationColumns, models.KindGroup, groupRef, classVal)
	if errors.Is(err, sql.ErrNoRows) {
		err = r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE group_ref=$1`, groupRef)
	}
	return conv, err
}

// AddMember inserts a membership row if absent and reports whether it did.
func (r *ConversationRepo) AddMember(ctx context.Context, conversationID, userID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO conversation_members (conversation_id, user_id) VALUES ($1, $2)
        ON CONFLICT (conversation_id, user_id) DO NOTHING`, conversationID, userID)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	return count > 0, err
}

// RemoveMember deletes a membership row and reports whether one existed.
// Removing a non-member is a no-op, not an error.
func (r *ConversationRepo) RemoveMember(ctx context.Context, conversationID, userID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM conversation_members WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	return count > 0, err
}

// DeleteGroupConversation removes the group conversation, cascading to its
// memberships and messages, and returns the former member ids so callers can
// clear cache state.
func (r *ConversationRepo) DeleteGroupConversation(ctx context.Context, groupRef string) (models.Conversation, []int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var conv models.Conversation
	err = tx.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE group_ref=$1`, groupRef)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrConversationNotFound
		return models.Conversation{}, nil, err
	}
	if err != nil {
		return models.Conversation{}, nil, err
	}

	var memberIDs []int64
	if err = tx.SelectContext(ctx, &memberIDs, `SELECT user_id FROM conversation_members WHERE conversation_id=$1`, conv.ID); err != nil {
		return models.Conversation{}, nil, err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM conversations WHERE id=$1`, conv.ID); err != nil {
		return models.Conversation{}, nil, err
	}

	if err = tx.Commit(); err != nil {
		return models.Conversation{}, nil, err
	}
	return conv, memberIDs, nil
}

// groupDirectory is the primitive subset the convergence op composes.
type groupDirectory interface {
	EnsureGroupConversation(ctx context.Context, groupRef, classRef string) (models.Conversation, error)
	MemberIDs(ctx context.Context, conversationID int64) ([]int64, error)
	AddMember(ctx context.Context, conversationID, userID int64) (bool, error)
	RemoveMember(ctx context.Context, conversationID, userID int64) (bool, error)
	DeleteGroupConversation(ctx context.Context, groupRef string) (models.Conversation, []int64, error)
}

// ReconcileGroupMembership converges the group conversation's membership to
// the desired set: missing members are added, extras removed, and an empty
// desired set deletes the conversation. Returns the conversation, the added
// and removed user ids, and whether the conversation was deleted.
func (r *ConversationRepo) ReconcileGroupMembership(ctx context.Context, groupRef, classRef string, desired []int64) (models.Conversation, []int64, []int64, bool, error) {
	return reconcileGroupMembership(ctx, r, groupRef, classRef, desired)
}

func reconcileGroupMembership(ctx context.Context, dir groupDirectory, groupRef, classRef string, desired []int64) (models.Conversation, []int64, []int64, bool, error) {
	if len(desired) == 0 {
		conv, removed, err := dir.DeleteGroupConversation(ctx, groupRef)
		if errors.Is(err, ErrConversationNotFound) {
			return models.Conversation{}, nil, nil, false, nil
		}
		if err != nil {
			return models.Conversation{}, nil, nil, false, err
		}
		return conv, nil, removed, true, nil
	}

	conv, err := dir.EnsureGroupConversation(ctx, groupRef, classRef)
	if err != nil {
		return models.Conversation{}, nil, nil, false, err
	}

	current, err := dir.MemberIDs(ctx, conv.ID)
	if err != nil {
		return models.Conversation{}, nil, nil, false, err
	}

	desiredSet := make(map[int64]struct{}, len(desired))
	for _, id := range desired {
		desiredSet[id] = struct{}{}
	}
	currentSet := make(map[int64]struct{}, len(current))
	for _, id := range current {
		currentSet[id] = struct{}{}
	}

	var added, removed []int64
	for _, id := range desired {
		if _, ok := currentSet[id]; ok {
			continue
		}
		inserted, err := dir.AddMember(ctx, conv.ID, id)
		if err != nil {
			return models.Conversation{}, nil, nil, false, err
		}
		if inserted {
			added = append(added, id)
		}
	}
	for _, id := range current {
		if _, ok := desiredSet[id]; ok {
			continue
		}
		deleted, err := dir.RemoveMember(ctx, conv.ID, id)
		if err != nil {
			return models.Conversation{}, nil, nil, false, err
		}
		if deleted {
			removed = append(removed, id)
		}
	}
	return conv, added, removed, false, nil
}
