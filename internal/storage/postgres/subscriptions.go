package postgres

import (
	"context"

	"github.com/visawatch/policywatch/internal/pipeline"
)

// SubscriptionStore reads route subscriptions for notification matching.
type SubscriptionStore struct {
	pool dbConn
}

// ListActiveSubscriptions returns all active subscriptions ordered by route.
func (s *SubscriptionStore) ListActiveSubscriptions(ctx context.Context) ([]pipeline.RouteSubscription, error) {
	query := `
SELECT id, route_id, origin, destination, visa_type, email, is_active
FROM route_subscriptions
WHERE is_active
ORDER BY route_id, id`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, &pipeline.StorageError{Op: "list subscriptions", Err: err}
	}
	defer rows.Close()
	var out []pipeline.RouteSubscription
	for rows.Next() {
		var sub pipeline.RouteSubscription
		err := rows.Scan(
			&sub.ID,
			&sub.RouteID,
			&sub.Origin,
			&sub.Destination,
			&sub.VisaType,
			&sub.Email,
			&sub.IsActive,
		)
		if err != nil {
			return nil, &pipeline.StorageError{Op: "scan subscription", Err: err}
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, &pipeline.StorageError{Op: "iterate subscriptions", Err: err}
	}
	return out, nil
}
