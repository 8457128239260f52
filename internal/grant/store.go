package grant

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for trial grants, role configs,
// and role grants. It holds no business logic; absent rows surface as
// pgx.ErrNoRows.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ---------------------------------------------------------------------------
// Trial grants
// ---------------------------------------------------------------------------

const trialColumns = `user_id, start_time, used`

func scanTrial(row pgx.Row) (*TrialGrant, error) {
	var t TrialGrant
	if err := row.Scan(&t.UserID, &t.StartTime, &t.Used); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpsertTrial inserts or replaces the trial record for a user.
func (s *Store) UpsertTrial(ctx context.Context, t TrialGrant) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trial_grants (user_id, start_time, used)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET start_time = $2, used = $3`,
		t.UserID, t.StartTime, t.Used,
	)
	if err != nil {
		return fmt.Errorf("upserting trial grant: %w", err)
	}
	return nil
}

// GetTrial retrieves the trial record for a user.
func (s *Store) GetTrial(ctx context.Context, userID string) (*TrialGrant, error) {
	query := fmt.Sprintf(`SELECT %s FROM trial_grants WHERE user_id = $1`, trialColumns)
	return scanTrial(s.pool.QueryRow(ctx, query, userID))
}

// DeleteTrial removes a user's trial record. This is an explicit admin
// escape hatch; no sweep ever calls it.
func (s *Store) DeleteTrial(ctx context.Context, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM trial_grants WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("deleting trial grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListUsedTrials returns every trial record whose trial has been
// consumed, including records with no start time.
func (s *Store) ListUsedTrials(ctx context.Context) ([]*TrialGrant, error) {
	query := fmt.Sprintf(`SELECT %s FROM trial_grants WHERE used ORDER BY user_id`, trialColumns)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing used trials: %w", err)
	}
	defer rows.Close()

	var trials []*TrialGrant
	for rows.Next() {
		t, err := scanTrial(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning trial grant: %w", err)
		}
		trials = append(trials, t)
	}
	return trials, rows.Err()
}

// ---------------------------------------------------------------------------
// Role configs
// ---------------------------------------------------------------------------

const roleConfigColumns = `role_id, role_name, duration_days, created_at`

func scanRoleConfig(row pgx.Row) (*RoleConfig, error) {
	var rc RoleConfig
	if err := row.Scan(&rc.RoleID, &rc.RoleName, &rc.DurationDays, &rc.CreatedAt); err != nil {
		return nil, err
	}
	return &rc, nil
}

// PutRoleConfig inserts or replaces a role's default-duration config.
func (s *Store) PutRoleConfig(ctx context.Context, rc RoleConfig) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO role_configs (role_id, role_name, duration_days, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (role_id) DO UPDATE SET role_name = $2, duration_days = $3, created_at = $4`,
		rc.RoleID, rc.RoleName, rc.DurationDays, rc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting role config: %w", err)
	}
	return nil
}

// GetRoleConfig retrieves the config for a role.
func (s *Store) GetRoleConfig(ctx context.Context, roleID string) (*RoleConfig, error) {
	query := fmt.Sprintf(`SELECT %s FROM role_configs WHERE role_id = $1`, roleConfigColumns)
	return scanRoleConfig(s.pool.QueryRow(ctx, query, roleID))
}

// ListRoleConfigs returns all role configs ordered by creation time.
func (s *Store) ListRoleConfigs(ctx context.Context) ([]*RoleConfig, error) {
	query := fmt.Sprintf(`SELECT %s FROM role_configs ORDER BY created_at`, roleConfigColumns)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing role configs: %w", err)
	}
	defer rows.Close()

	var configs []*RoleConfig
	for rows.Next() {
		rc, err := scanRoleConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning role config: %w", err)
		}
		configs = append(configs, rc)
	}
	return configs, rows.Err()
}

// DeleteRoleConfig removes a role's config. Grants already issued from
// it are unaffected.
func (s *Store) DeleteRoleConfig(ctx context.Context, roleID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM role_configs WHERE role_id = $1`, roleID)
	if err != nil {
		return fmt.Errorf("deleting role config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ---------------------------------------------------------------------------
// Role grants
// ---------------------------------------------------------------------------

const roleGrantColumns = `id, user_id, role_id, start_time, end_time, duration_days`

func scanRoleGrant(row pgx.Row) (*RoleGrant, error) {
	var g RoleGrant
	if err := row.Scan(&g.ID, &g.UserID, &g.RoleID, &g.StartTime, &g.EndTime, &g.DurationDays); err != nil {
		return nil, err
	}
	return &g, nil
}

// AddRoleGrant inserts a role grant starting at start. The end time is
// computed once here and never recomputed afterwards.
func (s *Store) AddRoleGrant(ctx context.Context, userID, roleID string, durationDays int, start time.Time) (*RoleGrant, error) {
	end := start.Add(DaysDuration(durationDays))
	query := fmt.Sprintf(`INSERT INTO role_grants
		(user_id, role_id, start_time, end_time, duration_days)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING %s`, roleGrantColumns)

	g, err := scanRoleGrant(s.pool.QueryRow(ctx, query, userID, roleID, start, end, durationDays))
	if err != nil {
		return nil, fmt.Errorf("adding role grant: %w", err)
	}
	return g, nil
}

// ListRoleGrantsByUser returns all of a user's grants, newest expiry first.
func (s *Store) ListRoleGrantsByUser(ctx context.Context, userID string) ([]*RoleGrant, error) {
	query := fmt.Sprintf(`SELECT %s FROM role_grants WHERE user_id = $1 ORDER BY end_time DESC`, roleGrantColumns)
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing role grants for user: %w", err)
	}
	defer rows.Close()
	return collectRoleGrants(rows)
}

// ListActiveRoleGrants returns grants whose end time is after now,
// soonest expiry first. The caller supplies a single now so the whole
// listing reflects one snapshot.
func (s *Store) ListActiveRoleGrants(ctx context.Context, now time.Time) ([]*RoleGrant, error) {
	query := fmt.Sprintf(`SELECT %s FROM role_grants WHERE end_time > $1 ORDER BY end_time ASC`, roleGrantColumns)
	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("listing active role grants: %w", err)
	}
	defer rows.Close()
	return collectRoleGrants(rows)
}

// ListExpiredRoleGrants returns grants whose end time is at or before
// now, soonest expiry first.
func (s *Store) ListExpiredRoleGrants(ctx context.Context, now time.Time) ([]*RoleGrant, error) {
	query := fmt.Sprintf(`SELECT %s FROM role_grants WHERE end_time <= $1 ORDER BY end_time ASC`, roleGrantColumns)
	rows, err := s.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("listing expired role grants: %w", err)
	}
	defer rows.Close()
	return collectRoleGrants(rows)
}

// DeleteRoleGrant removes a role grant by id.
func (s *Store) DeleteRoleGrant(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM role_grants WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting role grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func collectRoleGrants(rows pgx.Rows) ([]*RoleGrant, error) {
	var grants []*RoleGrant
	for rows.Next() {
		g, err := scanRoleGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning role grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
