package postgres

import "context"

// Exec runs raw SQL outside the Tx contract, classifying errors like the store.
func (s *Store) Exec(ctx context.Context, sql string, args ...any) error {
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return classify("exec", err)
	}
	return nil
}
