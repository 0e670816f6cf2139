package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/neftyr/raffle-deploy/internal/provision"
	"github.com/neftyr/raffle-deploy/internal/record"
)

// SaveDeployment records rec as the current deployment of its contract on
// network and appends it to the deployment log. Saving an identical record
// again leaves the log unchanged.
func (s *Store) SaveDeployment(ctx context.Context, network string, rec provision.DeploymentRecord) error {
	argsJSON, err := marshalArgs(rec.Args)
	if err != nil {
		return fmt.Errorf("save deployment: %w", err)
	}
	recordHash, err := record.Hash(record.DomainDeployment, map[string]any{
		"network": network,
		"record":  rec,
	})
	if err != nil {
		return fmt.Errorf("save deployment: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save deployment: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM deployment_log`).Scan(&seq); err != nil {
		return fmt.Errorf("save deployment: next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO deployment_log (record_hash, network, contract_name, address, seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(record_hash) DO NOTHING
	`, recordHash, network, rec.ContractName, rec.Address.Hex(), seq)
	if err != nil {
		return fmt.Errorf("save deployment: log: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO deployments
		(network, contract_name, address, tx_hash, block_number, args, args_hash, record_hash, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(network, contract_name) DO UPDATE SET
			address = excluded.address,
			tx_hash = excluded.tx_hash,
			block_number = excluded.block_number,
			args = excluded.args,
			args_hash = excluded.args_hash,
			record_hash = excluded.record_hash,
			seq = excluded.seq
		WHERE deployments.record_hash != excluded.record_hash
	`,
		network,
		rec.ContractName,
		rec.Address.Hex(),
		rec.TxHash.Hex(),
		int64(rec.BlockNumber),
		argsJSON,
		rec.Args.Hash(),
		recordHash,
		seq,
	)
	if err != nil {
		return fmt.Errorf("save deployment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save deployment: commit: %w", err)
	}
	return nil
}

// GetDeployment returns the current record for name on network. It returns an
// error wrapping provision.ErrDeploymentNotFound when none is stored.
func (s *Store) GetDeployment(ctx context.Context, network, name string) (provision.DeploymentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT contract_name, address, tx_hash, block_number, args
		FROM deployments
		WHERE network = ? AND contract_name = ?
	`, network, name)

	rec, err := scanDeployment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return provision.DeploymentRecord{}, fmt.Errorf("%s on %s: %w", name, network, provision.ErrDeploymentNotFound)
	}
	if err != nil {
		return provision.DeploymentRecord{}, fmt.Errorf("get deployment: %w", err)
	}
	return rec, nil
}

// ListDeployments returns the current records on network ordered by contract
// name.
func (s *Store) ListDeployments(ctx context.Context, network string) ([]provision.DeploymentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT contract_name, address, tx_hash, block_number, args
		FROM deployments
		WHERE network = ?
		ORDER BY contract_name COLLATE BINARY ASC
	`, network)
	if err != nil {
		return nil, fmt.Errorf("query deployments: %w", err)
	}
	defer rows.Close()

	records := []provision.DeploymentRecord{}
	for rows.Next() {
		rec, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deployments: %w", err)
	}
	return records, nil
}

// DeploymentHistory returns how many distinct records were ever saved for
// name on network.
func (s *Store) DeploymentHistory(ctx context.Context, network, name string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM deployment_log WHERE network = ? AND contract_name = ?
	`, network, name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count deployment history: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row scanner) (provision.DeploymentRecord, error) {
	var (
		name, address, txHash, argsJSON string
		block                           int64
	)
	if err := row.Scan(&name, &address, &txHash, &block, &argsJSON); err != nil {
		return provision.DeploymentRecord{}, err
	}
	args, err := unmarshalArgs(argsJSON)
	if err != nil {
		return provision.DeploymentRecord{}, fmt.Errorf("deployment %s: %w", name, err)
	}
	return provision.DeploymentRecord{
		ContractName: name,
		Address:      common.HexToAddress(address),
		Args:         args,
		TxHash:       common.HexToHash(txHash),
		BlockNumber:  uint64(block),
	}, nil
}
