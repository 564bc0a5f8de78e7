package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/devrev/datapond/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// schema is applied by EnsureSchema. The tenant and package tables hold a
// single row pinned by the singleton column.
const schema = `
CREATE TABLE IF NOT EXISTS tenant (
	singleton     BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
	tenant_id     TEXT NOT NULL,
	registered_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS provisioning_package (
	singleton BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
	data      BYTEA NOT NULL,
	digest    TEXT NOT NULL,
	loaded_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS user_placements (
	user_id        TEXT PRIMARY KEY,
	shard_ids      TEXT[] NOT NULL,
	full_shard_ids TEXT[] NOT NULL
);
CREATE TABLE IF NOT EXISTS file_locations (
	user_id  TEXT NOT NULL,
	file_id  TEXT NOT NULL,
	shard_id TEXT NOT NULL,
	PRIMARY KEY (user_id, file_id)
);
CREATE TABLE IF NOT EXISTS shard_nodes (
	shard_id   TEXT PRIMARY KEY,
	address    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

// PostgresMetadataStore implements MetadataStore for PostgreSQL
type PostgresMetadataStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresMetadataStore creates a new PostgreSQL metadata store and
// applies the schema.
func NewPostgresMetadataStore(
	ctx context.Context,
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	logger *zap.Logger,
) (*PostgresMetadataStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresMetadataStore{
		pool:   pool,
		logger: logger,
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates missing tables
func (s *PostgresMetadataStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// GetTenant retrieves the registered tenant
func (s *PostgresMetadataStore) GetTenant(ctx context.Context) (*model.Tenant, error) {
	var t model.Tenant
	err := s.pool.QueryRow(ctx,
		`SELECT tenant_id, registered_at FROM tenant WHERE singleton`,
	).Scan(&t.ID, &t.RegisteredAt)
	if err != nil {
		return nil, notFound(err, "failed to get tenant")
	}
	return &t, nil
}

// CreateTenant registers the tenant
func (s *PostgresMetadataStore) CreateTenant(ctx context.Context, tenant *model.Tenant) error {
	result, err := s.pool.Exec(ctx, `
		INSERT INTO tenant (tenant_id, registered_at)
		VALUES ($1, $2)
		ON CONFLICT (singleton) DO NOTHING
	`, tenant.ID, tenant.RegisteredAt)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// GetPackage retrieves the current provisioning package
func (s *PostgresMetadataStore) GetPackage(ctx context.Context) (*model.ProvisioningPackage, error) {
	var p model.ProvisioningPackage
	err := s.pool.QueryRow(ctx,
		`SELECT data, digest, loaded_at FROM provisioning_package WHERE singleton`,
	).Scan(&p.Data, &p.Digest, &p.LoadedAt)
	if err != nil {
		return nil, notFound(err, "failed to get provisioning package")
	}
	return &p, nil
}

// PutPackage replaces the provisioning package
func (s *PostgresMetadataStore) PutPackage(ctx context.Context, pkg *model.ProvisioningPackage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO provisioning_package (data, digest, loaded_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (singleton) DO UPDATE
		SET data = EXCLUDED.data, digest = EXCLUDED.digest, loaded_at = EXCLUDED.loaded_at
	`, pkg.Data, pkg.Digest, pkg.LoadedAt)
	if err != nil {
		return fmt.Errorf("failed to store provisioning package: %w", err)
	}
	return nil
}

// GetUser retrieves a user placement record
func (s *PostgresMetadataStore) GetUser(ctx context.Context, userID string) (*model.UserRecord, error) {
	u := model.UserRecord{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT shard_ids, full_shard_ids FROM user_placements WHERE user_id = $1`,
		userID,
	).Scan(&u.ShardIDs, &u.FullShardIDs)
	if err != nil {
		return nil, notFound(err, "failed to get user")
	}
	return &u, nil
}

// PutUser creates or replaces a user placement record
func (s *PostgresMetadataStore) PutUser(ctx context.Context, user *model.UserRecord) error {
	shardIDs := user.ShardIDs
	if shardIDs == nil {
		shardIDs = []string{}
	}
	fullIDs := user.FullShardIDs
	if fullIDs == nil {
		fullIDs = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_placements (user_id, shard_ids, full_shard_ids)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET shard_ids = EXCLUDED.shard_ids, full_shard_ids = EXCLUDED.full_shard_ids
	`, user.UserID, shardIDs, fullIDs)
	if err != nil {
		return fmt.Errorf("failed to store user: %w", err)
	}
	return nil
}

// GetFileLocation returns the shard holding a user's file
func (s *PostgresMetadataStore) GetFileLocation(ctx context.Context, userID, fileID string) (string, error) {
	var shardID string
	err := s.pool.QueryRow(ctx,
		`SELECT shard_id FROM file_locations WHERE user_id = $1 AND file_id = $2`,
		userID, fileID,
	).Scan(&shardID)
	if err != nil {
		return "", notFound(err, "failed to get file location")
	}
	return shardID, nil
}

// PutFileLocation records the shard holding a user's file
func (s *PostgresMetadataStore) PutFileLocation(ctx context.Context, userID, fileID, shardID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO file_locations (user_id, file_id, shard_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, file_id) DO UPDATE SET shard_id = EXCLUDED.shard_id
	`, userID, fileID, shardID)
	if err != nil {
		return fmt.Errorf("failed to store file location: %w", err)
	}
	return nil
}

// ListShardNodes lists provisioned shards ordered by creation time
func (s *PostgresMetadataStore) ListShardNodes(ctx context.Context) ([]*model.ShardNode, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT shard_id, address, created_at FROM shard_nodes ORDER BY created_at, shard_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list shard nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*model.ShardNode
	for rows.Next() {
		var n model.ShardNode
		if err := rows.Scan(&n.ShardID, &n.Address, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan shard node: %w", err)
		}
		nodes = append(nodes, &n)
	}
	return nodes, rows.Err()
}

// GetShardNode retrieves a provisioned shard
func (s *PostgresMetadataStore) GetShardNode(ctx context.Context, shardID string) (*model.ShardNode, error) {
	var n model.ShardNode
	err := s.pool.QueryRow(ctx,
		`SELECT shard_id, address, created_at FROM shard_nodes WHERE shard_id = $1`,
		shardID,
	).Scan(&n.ShardID, &n.Address, &n.CreatedAt)
	if err != nil {
		return nil, notFound(err, "failed to get shard node")
	}
	return &n, nil
}

// AddShardNode records a provisioned shard
func (s *PostgresMetadataStore) AddShardNode(ctx context.Context, node *model.ShardNode) error {
	result, err := s.pool.Exec(ctx, `
		INSERT INTO shard_nodes (shard_id, address, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (shard_id) DO NOTHING
	`, node.ShardID, node.Address, node.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add shard node: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// RemoveShardNode forgets a provisioned shard
func (s *PostgresMetadataStore) RemoveShardNode(ctx context.Context, shardID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM shard_nodes WHERE shard_id = $1`, shardID); err != nil {
		return fmt.Errorf("failed to remove shard node: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (s *PostgresMetadataStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresMetadataStore) Close() {
	s.pool.Close()
}

func notFound(err error, msg string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", msg, err)
}
