//go:build cgo

package dolt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/findingstore/findingstore/internal/corekit"
	"github.com/findingstore/findingstore/internal/types"
)

// Source-component patterns are stored as a JSON string array in a TEXT
// column; the storage layer never interprets them, the query engine's
// component expansion does.

func qUpsertSourceComponent(ctx context.Context, q queryer, c *types.SourceComponent) error {
	patterns, err := json.Marshal(c.Patterns)
	if err != nil {
		return corekit.New(corekit.KindGeneral, "upsert_source_component marshal", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO source_components (name, patterns) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE patterns = VALUES(patterns)
	`, c.Name, string(patterns))
	return corekit.WrapDB("upsert_source_component", err)
}

func qGetSourceComponent(ctx context.Context, q queryer, name string) (*types.SourceComponent, error) {
	var patterns string
	err := q.QueryRowContext(ctx, `SELECT patterns FROM source_components WHERE name = ?`, name).Scan(&patterns)
	if err != nil {
		return nil, corekit.WrapDB("get_source_component", err)
	}
	c := &types.SourceComponent{Name: name}
	if err := json.Unmarshal([]byte(patterns), &c.Patterns); err != nil {
		return nil, corekit.New(corekit.KindGeneral, "get_source_component unmarshal", fmt.Errorf("component %q: %w", name, err))
	}
	return c, nil
}

func qListSourceComponents(ctx context.Context, q queryer) ([]*types.SourceComponent, error) {
	rows, err := q.QueryContext(ctx, `SELECT name, patterns FROM source_components ORDER BY name`)
	if err != nil {
		return nil, corekit.WrapDB("list_source_components", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*types.SourceComponent
	for rows.Next() {
		c := &types.SourceComponent{}
		var patterns string
		if err := rows.Scan(&c.Name, &patterns); err != nil {
			return nil, corekit.WrapDB("list_source_components scan", err)
		}
		if err := json.Unmarshal([]byte(patterns), &c.Patterns); err != nil {
			return nil, corekit.New(corekit.KindGeneral, "list_source_components unmarshal", fmt.Errorf("component %q: %w", c.Name, err))
		}
		out = append(out, c)
	}
	return out, corekit.WrapDB("list_source_components rows", rows.Err())
}

func qRemoveSourceComponent(ctx context.Context, q queryer, name string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM source_components WHERE name = ?`, name)
	if err != nil {
		return corekit.WrapDB("remove_source_component", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return corekit.WrapDB("remove_source_component rows_affected", err)
	}
	if n == 0 {
		return corekit.New(corekit.KindGeneral, "remove_source_component", corekit.ErrNotFound)
	}
	return nil
}
