package postgres

const (
	// querySaveEvent inserts an event under both uniqueness guards.
	// No conflict target: a hit on (owner_id, external_id) or on the partial
	// unique_identifier index both return no rows (sql.ErrNoRows) for duplicates.
	querySaveEvent = `
		INSERT INTO events (
			id, owner_id, account_id, message_id, type, occurred_at,
			contact_email, contact_id, contact_key, external_id,
			is_first_interaction, unique_identifier, url,
			bounce_type, bounce_reason, provider, ingested_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT DO NOTHING
		RETURNING ingest_seq
	`

	queryHasPriorInteraction = `
		SELECT EXISTS (
			SELECT 1 FROM events
			WHERE owner_id = $1
			  AND message_id = $2
			  AND contact_key = $3
			  AND type = $4
			  AND occurred_at < $5
		)
	`

	queryHasInteractionBetween = `
		SELECT EXISTS (
			SELECT 1 FROM events
			WHERE owner_id = $1
			  AND message_id = $2
			  AND contact_key = $3
			  AND type = $4
			  AND occurred_at BETWEEN $5 AND $6
		)
	`

	// queryCountEventsBase is extended with optional scope predicates by buildCountQuery.
	queryCountEventsBase = `
		SELECT type, COUNT(*), COUNT(DISTINCT NULLIF(contact_key, ''))
		FROM events
		WHERE owner_id = $1
		  AND occurred_at >= $2
		  AND occurred_at < $3`

	queryCreateAccount = `
		INSERT INTO accounts (
			id, owner_id, name, provider, base_url, credentials,
			status, webhook_id, last_sync_at, numeric_id, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	accountColumns = `
		id, owner_id, name, provider, base_url, credentials,
		status, webhook_id, last_sync_at, numeric_id, created_at, updated_at`

	queryGetAccount          = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	queryGetAccountByWebhook = `SELECT ` + accountColumns + ` FROM accounts WHERE webhook_id = $1`
	queryListAccounts        = `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at ASC, id ASC`

	queryTouchLastSync = `
		UPDATE accounts
		SET last_sync_at = GREATEST(COALESCE(last_sync_at, $2), $2), updated_at = $3
		WHERE id = $1
	`

	messageColumns = `
		id, owner_id, account_id, external_id, numeric_id, subject, from_name, from_email, placeholder,
		sent_count, delivered_count, open_count, unique_open_count, click_count, unique_click_count,
		bounce_count, unsubscribe_count, complaint_count, created_at, updated_at`

	queryGetMessage            = `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	queryFindMessageByExternal = `SELECT ` + messageColumns + ` FROM messages WHERE account_id = $1 AND external_id = $2`

	// queryInsertMessage is the atomic get-or-create: a concurrent creator makes
	// this return no rows and the caller re-reads the winner.
	queryInsertMessage = `
		INSERT INTO messages (
			id, owner_id, account_id, external_id, numeric_id,
			subject, from_name, from_email, placeholder, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (account_id, external_id) DO NOTHING
		RETURNING id
	`

	queryUpdateMessageMetadata = `
		UPDATE messages
		SET subject = $2, from_name = $3, from_email = $4, placeholder = FALSE, updated_at = $5
		WHERE id = $1
	`

	// queryIncrementSummaryTemplate takes the counter column assignments; columns
	// come from the fixed summaryColumns whitelist, never from input.
	queryIncrementSummaryTemplate = `UPDATE messages SET %s, updated_at = $2 WHERE id = $1`

	queryUpsertSnapshot = `
		INSERT INTO metric_snapshots (
			owner_id, account_id, message_id, granularity, period_start,
			sent_count, delivered_count, open_count, unique_open_count, click_count,
			unique_click_count, bounce_count, unsubscribe_count, complaint_count,
			open_rate, unique_open_rate, click_rate, unique_click_rate, click_to_open_rate,
			bounce_rate, unsubscribe_rate, complaint_rate, delivery_rate, computed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		ON CONFLICT (owner_id, account_id, message_id, granularity, period_start)
		DO UPDATE SET
			sent_count         = EXCLUDED.sent_count,
			delivered_count    = EXCLUDED.delivered_count,
			open_count         = EXCLUDED.open_count,
			unique_open_count  = EXCLUDED.unique_open_count,
			click_count        = EXCLUDED.click_count,
			unique_click_count = EXCLUDED.unique_click_count,
			bounce_count       = EXCLUDED.bounce_count,
			unsubscribe_count  = EXCLUDED.unsubscribe_count,
			complaint_count    = EXCLUDED.complaint_count,
			open_rate          = EXCLUDED.open_rate,
			unique_open_rate   = EXCLUDED.unique_open_rate,
			click_rate         = EXCLUDED.click_rate,
			unique_click_rate  = EXCLUDED.unique_click_rate,
			click_to_open_rate = EXCLUDED.click_to_open_rate,
			bounce_rate        = EXCLUDED.bounce_rate,
			unsubscribe_rate   = EXCLUDED.unsubscribe_rate,
			complaint_rate     = EXCLUDED.complaint_rate,
			delivery_rate      = EXCLUDED.delivery_rate,
			computed_at        = EXCLUDED.computed_at
	`

	snapshotColumns = `
		owner_id, account_id, message_id, granularity, period_start,
		sent_count, delivered_count, open_count, unique_open_count, click_count,
		unique_click_count, bounce_count, unsubscribe_count, complaint_count,
		open_rate, unique_open_rate, click_rate, unique_click_rate, click_to_open_rate,
		bounce_rate, unsubscribe_rate, complaint_rate, delivery_rate, computed_at`

	queryGetSnapshot = `
		SELECT ` + snapshotColumns + `
		FROM metric_snapshots
		WHERE owner_id = $1 AND account_id = $2 AND message_id = $3
		  AND granularity = $4 AND period_start = $5
	`

	queryListSnapshots = `
		SELECT ` + snapshotColumns + `
		FROM metric_snapshots
		WHERE owner_id = $1 AND account_id = $2 AND message_id = $3
		  AND granularity = $4 AND period_start >= $5 AND period_start < $6
		ORDER BY period_start ASC
	`

	// queryNextSequence is a single-statement find-and-increment.
	queryNextSequence = `
		INSERT INTO sequence_counters (entity_type, last_value)
		VALUES ($1, 1)
		ON CONFLICT (entity_type)
		DO UPDATE SET last_value = sequence_counters.last_value + 1
		RETURNING last_value
	`
)
