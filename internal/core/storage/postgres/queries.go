package postgres

// SQL for the interaction and similarity tables.

const (
	// queryUpsertInteraction only ever raises a rating. A replayed or weaker action
	// leaves the row untouched, so redelivery after a partial failure is harmless.
	queryUpsertInteraction = `
		INSERT INTO interactions (user_id, event_id, rating, action_ts)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, event_id) DO UPDATE SET
			rating    = EXCLUDED.rating,
			action_ts = EXCLUDED.action_ts
		WHERE interactions.rating < EXCLUDED.rating
	`

	// queryUpsertSimilarity is last-writer-wins per canonical pair.
	queryUpsertSimilarity = `
		INSERT INTO event_similarities (event_a, event_b, score, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_a, event_b) DO UPDATE SET
			score      = EXCLUDED.score,
			updated_at = EXCLUDED.updated_at
	`

	queryRecentInteractions = `
		SELECT user_id, event_id, rating, action_ts
		FROM interactions
		WHERE user_id = $1
		ORDER BY action_ts DESC, event_id ASC
		LIMIT $2
	`

	queryUserEventIDs = `
		SELECT event_id
		FROM interactions
		WHERE user_id = $1
		ORDER BY event_id ASC
	`

	queryInteractionSums = `
		SELECT event_id, SUM(rating)
		FROM interactions
		WHERE event_id = ANY($1::bigint[])
		GROUP BY event_id
		ORDER BY event_id ASC
	`

	queryLoadInteractions = `
		SELECT user_id, event_id, rating, action_ts
		FROM interactions
		ORDER BY user_id ASC, event_id ASC
	`

	// querySimilarTo orders by score desc and breaks ties on the other endpoint.
	querySimilarTo = `
		SELECT event_a, event_b, score, updated_at
		FROM event_similarities
		WHERE (event_a = $1 AND NOT (event_b = ANY($2::bigint[])))
		   OR (event_b = $1 AND NOT (event_a = ANY($2::bigint[])))
		ORDER BY score DESC,
		         CASE WHEN event_a = $1 THEN event_b ELSE event_a END ASC
		LIMIT $3
	`

	queryNeighbors = `
		SELECT event_a, event_b, score, updated_at
		FROM event_similarities
		WHERE (event_a = $1 AND event_b = ANY($2::bigint[]))
		   OR (event_b = $1 AND event_a = ANY($2::bigint[]))
		ORDER BY score DESC,
		         CASE WHEN event_a = $1 THEN event_b ELSE event_a END ASC
		LIMIT $3
	`

	querySchemaTables = `
		SELECT COUNT(*)
		FROM information_schema.tables
		WHERE table_name IN ('interactions', 'event_similarities')
	`
)
