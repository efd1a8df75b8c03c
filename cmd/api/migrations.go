// cmd/api/migrations.go
// Database schema for the chat subsystem

package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/jmoiron/sqlx"
)

// runMigrations executes database migrations
func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		// User directory. Accounts are provisioned by the identity service;
		// this table is the snapshot source for denormalized chat rows.
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			display_name VARCHAR(255) NOT NULL,
			role VARCHAR(50) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)`,

		// Chat requests
		`CREATE TABLE IF NOT EXISTS chat_requests (
			id UUID PRIMARY KEY,
			from_user_id UUID NOT NULL,
			from_user_name VARCHAR(255) NOT NULL,
			from_user_role VARCHAR(50) NOT NULL,
			to_user_id UUID,
			to_user_name VARCHAR(255),
			to_role VARCHAR(50) NOT NULL DEFAULT '',
			message TEXT NOT NULL,
			subject VARCHAR(255),
			request_type VARCHAR(50) NOT NULL DEFAULT 'support',
			priority VARCHAR(20) NOT NULL DEFAULT 'normal',
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			assigned_to_id UUID,
			assigned_to_name VARCHAR(255),
			assigned_to_role VARCHAR(50),
			conversation_id UUID,
			response_message TEXT,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
			responded_at TIMESTAMP WITH TIME ZONE
		)`,

		// Conversations
		`CREATE TABLE IF NOT EXISTS conversations (
			id UUID PRIMARY KEY,
			type VARCHAR(20) NOT NULL DEFAULT 'support',
			title VARCHAR(255),
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_by UUID NOT NULL,
			ended_by UUID,
			ended_at TIMESTAMP WITH TIME ZONE,
			end_reason TEXT,
			last_message_preview TEXT,
			last_message_at TIMESTAMP WITH TIME ZONE,
			message_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)`,

		// Conversation participants
		`CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			user_id UUID NOT NULL,
			user_name VARCHAR(255) NOT NULL,
			user_role VARCHAR(50) NOT NULL,
			joined_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
			last_read_at TIMESTAMP WITH TIME ZONE,
			last_read_message_id UUID,
			unread_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (conversation_id, user_id)
		)`,

		// Messages
		`CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY,
			conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			sender_id UUID NOT NULL,
			sender_name VARCHAR(255) NOT NULL,
			sender_role VARCHAR(50) NOT NULL,
			content TEXT NOT NULL,
			message_type VARCHAR(20) NOT NULL DEFAULT 'text',
			file_name TEXT,
			original_name TEXT,
			file_url TEXT,
			file_size BIGINT,
			mime_type VARCHAR(100),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
		)`,

		// Read receipts
		`CREATE TABLE IF NOT EXISTS message_receipts (
			message_id UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			user_id UUID NOT NULL,
			user_name VARCHAR(255) NOT NULL,
			read_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (message_id, user_id)
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_requests_from_user ON chat_requests(from_user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_to_user ON chat_requests(to_user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_role_queue ON chat_requests(to_role, status) WHERE to_user_id IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_requests_pending_age ON chat_requests(created_at) WHERE status = 'pending'`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_participants_user ON conversation_participants(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, id)`,
	}

	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			if !strings.Contains(err.Error(), "already exists") {
				return fmt.Errorf("migration %d failed: %w", i+1, err)
			}
			log.Printf("   - Migration %d skipped (already exists)", i+1)
		}
	}

	return nil
}
