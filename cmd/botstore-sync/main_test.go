package main

import (
	"context"
	"testing"

	"github.com/rzpsarthak13/botstore/internal/core"
	"github.com/rzpsarthak13/botstore/internal/registry"
	"github.com/rzpsarthak13/botstore/internal/schema"
	"github.com/stretchr/testify/require"
)

func TestDeclareTables(t *testing.T) {
	ctx := context.Background()
	specs, err := registry.ParseTableSpecs([]byte(`
tables:
  - name: guilds
    columns:
      - {name: id, type: bigint, primary_key: true}
      - {name: prefix, type: text, default: "!"}
  - name: members
    columns:
      - {name: guild_id, type: bigint, primary_key: true}
      - {name: user_id, type: bigint, primary_key: true}
`))
	require.NoError(t, err)

	tables, err := declareTables(ctx, specs)
	require.NoError(t, err)
	require.Equal(t, 2, tables.Count())
	require.Equal(t, specs, tables.Specs(), "declaration order is kept")

	_, err = declareTables(ctx, []core.TableSpec{{Name: "bad name"}})
	require.ErrorIs(t, err, schema.ErrInvalidSpec)
}
