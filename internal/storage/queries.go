package storage

const queryPGListSubscriptions = `
SELECT id, user_id, email, name, query, frequency, last_notified, created
FROM subscriptions
ORDER BY id
`

const queryPGUpsertSubscription = `
INSERT INTO subscriptions (id, user_id, email, name, query, frequency, last_notified, created)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    user_id = EXCLUDED.user_id,
    email = EXCLUDED.email,
    name = EXCLUDED.name,
    query = EXCLUDED.query,
    frequency = EXCLUDED.frequency,
    last_notified = EXCLUDED.last_notified,
    created = EXCLUDED.created
`

const queryPGMarkNotified = `
UPDATE subscriptions
SET last_notified = $1
WHERE id = $2
`

const queryPGInsertAudit = `
INSERT INTO audit (at, run_id, subscription_id, action, outcome, records, err, took_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`
