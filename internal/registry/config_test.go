package registry_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/rzpsarthak13/botstore/internal/kvstore"
	"github.com/rzpsarthak13/botstore/internal/registry"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, registry.ValidateConfig(registry.DefaultConfig()))
}

func TestLoadFromYAML(t *testing.T) {
	cm := registry.NewConfigManager()
	require.NoError(t, cm.LoadFromYAML([]byte(`
kvstore:
  type: redis
  redis:
    endpoints: [cache:6379]
    password: hunter2
database:
  dialect: postgres
  host: db
  port: 5432
  database: bot
  username: bot
  ssl_mode: disable
cache:
  namespace: bot
  flush_interval: 90s
`)))

	cfg := cm.GetConfig()
	require.Equal(t, []string{"cache:6379"}, cfg.KVStore.Redis.Endpoints)
	require.Equal(t, 90*time.Second, cfg.Cache.FlushInterval)
	require.Equal(t, 5, cfg.Cache.HydrateAttempts, "unset keys keep defaults")

	dsn, err := cfg.Database.DataSourceName()
	require.NoError(t, err)
	require.Equal(t, "dbname=bot host=db port=5432 user=bot sslmode=disable connect_timeout=10", dsn)

	cc, err := cfg.Database.ConnectorConfig()
	require.NoError(t, err)
	require.Equal(t, "postgres", cc.Driver)
}

func TestLoadRejectsInvalid(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown store":   "kvstore: {type: cassandra}",
		"unknown dialect": "database: {dialect: oracle}",
		"zero interval":   "cache: {flush_interval: 0s}",
		"bad redis db":    "kvstore: {type: redis, redis: {endpoints: [x], db: 20}}",
		"dynamo no table": "kvstore: {type: dynamodb, dynamodb: {region: us-east-1}}",
	} {
		require.Error(t, registry.NewConfigManager().LoadFromYAML([]byte(doc)), name)
	}
}

func TestDatabasePortRange(t *testing.T) {
	cfg := registry.DefaultConfig()
	cfg.Database.Port = 0
	require.NoError(t, registry.ValidateConfig(cfg), "0 selects the dialect default")

	cfg.Database.Port = 65536
	require.ErrorContains(t, registry.ValidateConfig(cfg), "between 0 and 65535")
	cfg.Database.Port = -1
	require.ErrorContains(t, registry.ValidateConfig(cfg), "between 0 and 65535")
}

func TestLoadFromFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "botstore.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"database": {"dialect": "mysql", "dsn": "bot@tcp(db)/bot"}}`), 0o600))

	cm := registry.NewConfigManager()
	require.NoError(t, cm.LoadFromFile(path))
	require.Equal(t, "mysql", cm.GetConfig().Database.Dialect)

	t.Setenv("BOTSTORE_CACHE_NAMESPACE", "prod")
	t.Setenv("BOTSTORE_CACHE_FLUSH_INTERVAL", "1m")
	t.Setenv("BOTSTORE_KVSTORE_TYPE", "redis")
	t.Setenv("BOTSTORE_KVSTORE_ENDPOINTS", "a:1,b:2")
	require.NoError(t, cm.LoadFromEnv())

	cfg := cm.GetConfig()
	require.Equal(t, "mysql", cfg.Database.Dialect, "env overlays the loaded file")
	require.Equal(t, "prod", cfg.Cache.Namespace)
	require.Equal(t, time.Minute, cfg.Cache.FlushInterval)
	require.Equal(t, []string{"a:1", "b:2"}, cfg.KVStore.Redis.Endpoints)

	t.Setenv("BOTSTORE_DATABASE_PORT", "many")
	require.ErrorContains(t, cm.LoadFromEnv(), "BOTSTORE_DATABASE_PORT")

	require.Error(t, cm.LoadFromFile(filepath.Join(t.TempDir(), "conf.toml")))
}

func TestDataSourceNames(t *testing.T) {
	mysql := registry.DatabaseConfig{Dialect: "mariadb", Host: "db", Database: "bot", Username: "bot", Password: "pw"}
	dsn, err := mysql.DataSourceName()
	require.NoError(t, err)
	require.Contains(t, dsn, "bot:pw@tcp(db:3306)/bot")

	pg := registry.DatabaseConfig{Dialect: "postgres", Database: "my db", Password: "it's"}
	dsn, err = pg.DataSourceName()
	require.NoError(t, err)
	require.Equal(t, `dbname='my db' password='it\'s'`, dsn)

	sqlite := registry.DatabaseConfig{Dialect: "sqlite3", Database: "/tmp/bot.db"}
	dsn, err = sqlite.DataSourceName()
	require.NoError(t, err)
	require.Equal(t, "/tmp/bot.db", dsn)

	ec := registry.DatabaseConfig{MaxAttempts: 5, AttemptTimeout: time.Second}.ExecutorConfig()
	require.Equal(t, 5, ec.MaxAttempts)
	require.Equal(t, time.Second, ec.AttemptTimeout)
}
