package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/store"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
	"github.com/jackc/pgx/v5"
)

func (s *Store) GetConversation(ctx context.Context, tenantID, convID string) (*models.Conversation, error) {
	c, err := s.scanConversation(s.pool.QueryRow(ctx, `
		select tenant_id, id, active, activation_method, activated_at,
		       current_agent_id, previous_agent_id, switch_history,
		       human_present, last_human_activity, bot_paused,
		       last_activity, created_at
		from conversations
		where tenant_id = $1 and id = $2
	`, tenantID, convID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &store.ErrNotFound{Entity: "conversation", Key: tenantID + "/" + convID}
		}
		return nil, err
	}
	return c, nil
}

// PutConversation upserts the full record in one statement; switch execution
// relies on this being a single atomic write.
func (s *Store) PutConversation(ctx context.Context, conv *models.Conversation) error {
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	history, _ := json.Marshal(conv.SwitchHistory)
	_, err := s.pool.Exec(ctx, `
		insert into conversations (tenant_id, id, active, activation_method, activated_at,
		                           current_agent_id, previous_agent_id, switch_history,
		                           human_present, last_human_activity, bot_paused,
		                           last_activity, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11, $12, $13)
		on conflict (tenant_id, id) do update
		set active = excluded.active,
		    activation_method = excluded.activation_method,
		    activated_at = excluded.activated_at,
		    current_agent_id = excluded.current_agent_id,
		    previous_agent_id = excluded.previous_agent_id,
		    switch_history = excluded.switch_history,
		    human_present = excluded.human_present,
		    last_human_activity = excluded.last_human_activity,
		    bot_paused = excluded.bot_paused,
		    last_activity = excluded.last_activity
	`, conv.TenantID, conv.ID, conv.Active, string(conv.ActivationMethod), conv.ActivatedAt,
		conv.CurrentAgentID, conv.PreviousAgentID, string(history),
		conv.HumanPresent, conv.LastHumanActivity, conv.BotPaused,
		conv.LastActivity, conv.CreatedAt)
	return err
}

func (s *Store) ListConversations(ctx context.Context, tenantID string) ([]models.Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		select tenant_id, id, active, activation_method, activated_at,
		       current_agent_id, previous_agent_id, switch_history,
		       human_present, last_human_activity, bot_paused,
		       last_activity, created_at
		from conversations
		where tenant_id = $1
		order by created_at
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		c, err := s.scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteConversations(ctx context.Context, tenantID string) error {
	_, err := s.pool.Exec(ctx, `delete from conversations where tenant_id = $1`, tenantID)
	return err
}

func (s *Store) scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		c       models.Conversation
		method  string
		history []byte
	)
	if err := row.Scan(
		&c.TenantID, &c.ID, &c.Active, &method, &c.ActivatedAt,
		&c.CurrentAgentID, &c.PreviousAgentID, &history,
		&c.HumanPresent, &c.LastHumanActivity, &c.BotPaused,
		&c.LastActivity, &c.CreatedAt,
	); err != nil {
		return nil, err
	}
	c.ActivationMethod = models.ActivationMethod(method)
	if len(history) > 0 {
		if err := json.Unmarshal(history, &c.SwitchHistory); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

// ── Messages ────────────────────────────────────────────────

func (s *Store) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		insert into messages (id, tenant_id, conversation_id, direction, origin, content, status, ts)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, msg.ID, msg.TenantID, msg.ConversationID, string(msg.Direction), string(msg.Origin),
		msg.Content, msg.Status, msg.Timestamp)
	return err
}

func (s *Store) ListRecentMessages(ctx context.Context, tenantID, convID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		select id, tenant_id, conversation_id, direction, origin, content, status, ts
		from (
			select * from messages
			where tenant_id = $1 and conversation_id = $2
			order by ts desc
			limit $3
		) recent
		order by ts asc
	`, tenantID, convID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var (
			m         models.Message
			direction string
			origin    string
		)
		if err := rows.Scan(&m.ID, &m.TenantID, &m.ConversationID, &direction, &origin, &m.Content, &m.Status, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Direction = models.Direction(direction)
		m.Origin = models.Origin(origin)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) DeleteMessages(ctx context.Context, tenantID string) error {
	_, err := s.pool.Exec(ctx, `delete from messages where tenant_id = $1`, tenantID)
	return err
}
