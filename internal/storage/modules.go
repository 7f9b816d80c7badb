package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenSupMCU/internal/types"
	"github.com/jackc/pgx/v5"
)

var ErrDefinitionNotFound = errors.New("module definition not found")

// StoredDefinition is one row of module_definitions.
type StoredDefinition struct {
	Bus          string                  `json:"bus"`
	Definition   *types.ModuleDefinition `json:"definition"`
	DiscoveredAt time.Time               `json:"discovered_at"`
}

// SaveModuleDefinition upserts the discovered definition of a module.
func (p *PostgresClient) SaveModuleDefinition(ctx context.Context, bus string, def *types.ModuleDefinition) error {
	defJSON, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO module_definitions (bus, address, cmd_name, name, version, definition, discovered_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (bus, address) DO UPDATE SET
			cmd_name = EXCLUDED.cmd_name,
			name = EXCLUDED.name,
			version = EXCLUDED.version,
			definition = EXCLUDED.definition,
			discovered_at = EXCLUDED.discovered_at
	`, bus, int(def.Address), def.CmdName, def.Name, def.Version, defJSON)
	if err != nil {
		return fmt.Errorf("failed to save module definition %s: %w", def.CmdName, err)
	}
	return nil
}

// LoadModuleDefinition returns the stored definition at bus/address.
func (p *PostgresClient) LoadModuleDefinition(ctx context.Context, bus string, address uint16) (*types.ModuleDefinition, error) {
	var defJSON []byte
	err := p.pool.QueryRow(ctx, `
		SELECT definition FROM module_definitions WHERE bus = $1 AND address = $2
	`, bus, int(address)).Scan(&defJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDefinitionNotFound
		}
		return nil, fmt.Errorf("failed to load module definition: %w", err)
	}
	return decodeDefinition(defJSON)
}

func (p *PostgresClient) ListModuleDefinitions(ctx context.Context, bus string) ([]StoredDefinition, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT bus, definition, discovered_at
		FROM module_definitions
		WHERE $1 = '' OR bus = $1
		ORDER BY bus, address
	`, bus)
	if err != nil {
		return nil, fmt.Errorf("failed to list module definitions: %w", err)
	}
	defer rows.Close()

	var out []StoredDefinition
	for rows.Next() {
		var sd StoredDefinition
		var defJSON []byte
		if err := rows.Scan(&sd.Bus, &defJSON, &sd.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("failed to scan module definition: %w", err)
		}
		if sd.Definition, err = decodeDefinition(defJSON); err != nil {
			return nil, err
		}
		out = append(out, sd)
	}
	return out, rows.Err()
}

func (p *PostgresClient) DeleteModuleDefinition(ctx context.Context, bus string, address uint16) error {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM module_definitions WHERE bus = $1 AND address = $2
	`, bus, int(address))
	if err != nil {
		return fmt.Errorf("failed to delete module definition: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDefinitionNotFound
	}
	return nil
}

func decodeDefinition(raw []byte) (*types.ModuleDefinition, error) {
	var def types.ModuleDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal module definition: %w", err)
	}
	if err := def.NormalizeDefaults(); err != nil {
		return nil, err
	}
	return &def, nil
}
