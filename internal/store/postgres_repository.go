/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface
 * for payroll streams, their runs, and the organization lookups they depend on.
 *
 * Amounts travel as text and are cast with `::numeric` so that no precision is lost
 * between shopspring/decimal and PostgreSQL NUMERIC columns.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: exact monetary amounts.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/transfa/payroll-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func isUndefinedTableError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}

// FindUserIDByAuthSubject resolves the internal user id from the identity provider subject.
func (r *PostgresRepository) FindUserIDByAuthSubject(ctx context.Context, subject string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, "SELECT id FROM users WHERE auth_subject = $1", subject).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrUserNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

func (r *PostgresRepository) FindMemberRole(ctx context.Context, organizationID, userID uuid.UUID) (domain.MemberRole, error) {
	var role string
	query := `SELECT role FROM organization_members WHERE organization_id = $1 AND user_id = $2`
	if err := r.db.QueryRow(ctx, query, organizationID, userID).Scan(&role); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrMemberNotFound
		}
		return "", err
	}
	return domain.MemberRole(role), nil
}

// FindOrganizationTreasury returns the organization's provider settlement account.
// An organization without a configured treasury is reported as not found.
func (r *PostgresRepository) FindOrganizationTreasury(ctx context.Context, organizationID uuid.UUID) (*domain.OrganizationTreasury, error) {
	var treasury *string
	query := `SELECT treasury_address FROM organizations WHERE id = $1`
	if err := r.db.QueryRow(ctx, query, organizationID).Scan(&treasury); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrganizationNotFound
		}
		return nil, err
	}
	if treasury == nil || *treasury == "" {
		return nil, ErrOrganizationNotFound
	}
	return &domain.OrganizationTreasury{OrganizationID: organizationID, TreasuryAddress: *treasury}, nil
}

func (r *PostgresRepository) FindEmployeeProfile(ctx context.Context, organizationID, employeeID uuid.UUID) (*domain.EmployeeProfile, error) {
	var profile domain.EmployeeProfile
	query := `
		SELECT id, organization_id, user_id, email, wallet_address
		FROM employee_profiles
		WHERE id = $1 AND organization_id = $2
	`
	err := r.db.QueryRow(ctx, query, employeeID, organizationID).Scan(
		&profile.ID,
		&profile.OrganizationID,
		&profile.UserID,
		&profile.Email,
		&profile.WalletAddress,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEmployeeNotFound
		}
		return nil, err
	}
	return &profile, nil
}

// FindUserWalletAddress returns the wallet linked to a platform user, or ErrUserNotFound
// when the user does not exist or has not linked one.
func (r *PostgresRepository) FindUserWalletAddress(ctx context.Context, userID uuid.UUID) (string, error) {
	var wallet *string
	if err := r.db.QueryRow(ctx, "SELECT wallet_address FROM users WHERE id = $1", userID).Scan(&wallet); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	if wallet == nil || *wallet == "" {
		return "", ErrUserNotFound
	}
	return *wallet, nil
}

const streamColumns = `
	id, organization_id, employee_id, payee_address, amount_monthly::text, cadence, status,
	standing_order_id, start_date, end_date, remote_status, next_execution_at,
	last_execution_at, remaining_amount::text, remote_synced_at, created_by, created_at, updated_at
`

func scanStream(row pgx.Row) (*domain.PayrollStream, error) {
	var (
		stream    domain.PayrollStream
		amount    string
		remaining *string
		cadence   string
		status    string
	)
	if err := row.Scan(
		&stream.ID,
		&stream.OrganizationID,
		&stream.EmployeeID,
		&stream.PayeeAddress,
		&amount,
		&cadence,
		&status,
		&stream.StandingOrderID,
		&stream.StartDate,
		&stream.EndDate,
		&stream.RemoteStatus,
		&stream.NextExecutionAt,
		&stream.LastExecutionAt,
		&remaining,
		&stream.RemoteSyncedAt,
		&stream.CreatedBy,
		&stream.CreatedAt,
		&stream.UpdatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount_monthly: %w", err)
	}
	stream.AmountMonthly = parsed
	if remaining != nil {
		value, err := decimal.NewFromString(*remaining)
		if err != nil {
			return nil, fmt.Errorf("parse remaining_amount: %w", err)
		}
		stream.RemainingAmount = &value
	}
	stream.Cadence = domain.Cadence(cadence)
	stream.Status = domain.StreamStatus(status)
	return &stream, nil
}

// CreateStream inserts a new stream. Timestamps are set by the database.
func (r *PostgresRepository) CreateStream(ctx context.Context, stream *domain.PayrollStream) error {
	query := `
		INSERT INTO payroll_streams (
			id, organization_id, employee_id, payee_address, amount_monthly, cadence, status,
			standing_order_id, start_date, end_date, remote_status, next_execution_at,
			remaining_amount, remote_synced_at, created_by
		)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13::numeric, $14, $15)
		RETURNING created_at, updated_at
	`
	var remaining *string
	if stream.RemainingAmount != nil {
		value := stream.RemainingAmount.String()
		remaining = &value
	}
	return r.db.QueryRow(ctx, query,
		stream.ID,
		stream.OrganizationID,
		stream.EmployeeID,
		stream.PayeeAddress,
		stream.AmountMonthly.String(),
		string(stream.Cadence),
		string(stream.Status),
		stream.StandingOrderID,
		stream.StartDate,
		stream.EndDate,
		stream.RemoteStatus,
		stream.NextExecutionAt,
		remaining,
		stream.RemoteSyncedAt,
		stream.CreatedBy,
	).Scan(&stream.CreatedAt, &stream.UpdatedAt)
}

func (r *PostgresRepository) FindStreamByID(ctx context.Context, streamID uuid.UUID) (*domain.PayrollStream, error) {
	query := `SELECT ` + streamColumns + ` FROM payroll_streams WHERE id = $1`
	stream, err := scanStream(r.db.QueryRow(ctx, query, streamID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStreamNotFound
		}
		return nil, err
	}
	return stream, nil
}

func (r *PostgresRepository) ListStreamsByOrganization(ctx context.Context, organizationID uuid.UUID) ([]domain.PayrollStream, error) {
	query := `SELECT ` + streamColumns + ` FROM payroll_streams WHERE organization_id = $1 ORDER BY created_at DESC`
	return r.queryStreams(ctx, query, organizationID)
}

// ListActiveTrackableStreams returns active streams that reference a standing order.
func (r *PostgresRepository) ListActiveTrackableStreams(ctx context.Context) ([]domain.PayrollStream, error) {
	query := `
		SELECT ` + streamColumns + `
		FROM payroll_streams
		WHERE status = $1 AND standing_order_id IS NOT NULL AND btrim(standing_order_id) <> ''
		ORDER BY created_at ASC
	`
	return r.queryStreams(ctx, query, string(domain.StreamStatusActive))
}

func (r *PostgresRepository) queryStreams(ctx context.Context, query string, args ...any) ([]domain.PayrollStream, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	streams := make([]domain.PayrollStream, 0)
	for rows.Next() {
		stream, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		streams = append(streams, *stream)
	}
	return streams, rows.Err()
}

// UpdateStreamStatus moves a stream from one status to another. It reports false,
// without error, when the stream was no longer in the expected status.
func (r *PostgresRepository) UpdateStreamStatus(ctx context.Context, streamID uuid.UUID, from, to domain.StreamStatus) (bool, error) {
	query := `
		UPDATE payroll_streams
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`
	result, err := r.db.Exec(ctx, query, streamID, string(from), string(to))
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// UpdateStreamRemoteState mirrors provider-owned fields. Business fields are untouched.
func (r *PostgresRepository) UpdateStreamRemoteState(ctx context.Context, streamID uuid.UUID, state RemoteStateParams) error {
	var remaining *string
	if state.RemainingAmount != nil {
		value := state.RemainingAmount.String()
		remaining = &value
	}
	query := `
		UPDATE payroll_streams
		SET
			remote_status = $2,
			next_execution_at = $3,
			last_execution_at = COALESCE($4, last_execution_at),
			remaining_amount = $5::numeric,
			remote_synced_at = $6,
			updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query,
		streamID,
		state.RemoteStatus,
		state.NextExecutionAt,
		state.LastExecutionAt,
		remaining,
		state.SyncedAt,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrStreamNotFound
	}
	return nil
}

// InsertStreamRunIfAbsent records a run unless one already exists for the same
// (stream, remote execution) pair. It reports whether a new row was created.
func (r *PostgresRepository) InsertStreamRunIfAbsent(ctx context.Context, run *domain.StreamRun) (bool, error) {
	query := `
		INSERT INTO stream_runs (
			id, stream_id, remote_execution_id, remote_transfer_id, amount, status, error_detail, executed_at
		)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8)
		ON CONFLICT (stream_id, remote_execution_id) DO NOTHING
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		run.ID,
		run.StreamID,
		run.RemoteExecutionID,
		run.RemoteTransferID,
		run.Amount.String(),
		string(run.Status),
		run.ErrorDetail,
		run.ExecutedAt,
	).Scan(&run.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *PostgresRepository) ListStreamRuns(ctx context.Context, streamID uuid.UUID) ([]domain.StreamRun, error) {
	query := `
		SELECT id, stream_id, remote_execution_id, remote_transfer_id, amount::text, status,
			error_detail, executed_at, created_at
		FROM stream_runs
		WHERE stream_id = $1
		ORDER BY executed_at ASC, created_at ASC
	`
	rows, err := r.db.Query(ctx, query, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]domain.StreamRun, 0)
	for rows.Next() {
		var (
			run    domain.StreamRun
			amount string
			status string
		)
		if err := rows.Scan(
			&run.ID,
			&run.StreamID,
			&run.RemoteExecutionID,
			&run.RemoteTransferID,
			&amount,
			&status,
			&run.ErrorDetail,
			&run.ExecutedAt,
			&run.CreatedAt,
		); err != nil {
			return nil, err
		}
		parsed, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse run amount: %w", err)
		}
		run.Amount = parsed
		run.Status = domain.RunStatus(status)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
