package flags

import (
	"time"

	"github.com/urfave/cli/v2"
)

const envVarPrefix = "TRACECODEX"

func prefixEnvVars(name string) []string {
	return []string{envVarPrefix + "_" + name}
}

var (
	ChainRpcFlag = &cli.StringFlag{
		Name:     "chain-rpc",
		Usage:    "HTTP or WS provider URL of a node serving debug_traceTransaction",
		EnvVars:  prefixEnvVars("CHAIN_RPC"),
		Required: true,
	}
	ChainIdFlag = &cli.UintFlag{
		Name:    "chain-id",
		Usage:   "The chain id, queried from the node when zero",
		EnvVars: prefixEnvVars("CHAIN_ID"),
	}
	RequestTimeoutFlag = &cli.DurationFlag{
		Name:    "request-timeout",
		Usage:   "Timeout of one inspection",
		EnvVars: prefixEnvVars("REQUEST_TIMEOUT"),
		Value:   5 * time.Minute,
	}

	TxHashFlag = &cli.StringFlag{
		Name:    "tx-hash",
		Usage:   "Hash of the transaction to inspect",
		EnvVars: prefixEnvVars("TX_HASH"),
	}
	ContextsFileFlag = &cli.StringFlag{
		Name:    "contexts-file",
		Usage:   "YAML or JSON file listing known contract contexts",
		EnvVars: prefixEnvVars("CONTEXTS_FILE"),
	}
	CacheSizeFlag = &cli.IntFlag{
		Name:    "cache-size",
		Usage:   "Number of memoized per-step query results",
		EnvVars: prefixEnvVars("CACHE_SIZE"),
		Value:   4096,
	}
	PersistFlag = &cli.BoolFlag{
		Name:    "persist",
		Usage:   "Store reconstructed step facts in the database",
		EnvVars: prefixEnvVars("PERSIST"),
	}
	RetryAttemptsFlag = &cli.IntFlag{
		Name:    "retry-attempts",
		Usage:   "Retries of a failed trace request",
		EnvVars: prefixEnvVars("RETRY_ATTEMPTS"),
		Value:   3,
	}
	MigrationsFlag = &cli.StringFlag{
		Name:    "migrations-dir",
		Usage:   "Directory of SQL migration files",
		EnvVars: prefixEnvVars("MIGRATIONS_DIR"),
		Value:   "./migrations",
	}

	MasterDbHostFlag = &cli.StringFlag{
		Name:    "master-db-host",
		Usage:   "The host of the master database",
		EnvVars: prefixEnvVars("MASTER_DB_HOST"),
	}
	MasterDbPortFlag = &cli.IntFlag{
		Name:    "master-db-port",
		Usage:   "The port of the master database",
		EnvVars: prefixEnvVars("MASTER_DB_PORT"),
		Value:   5432,
	}
	MasterDbUserFlag = &cli.StringFlag{
		Name:    "master-db-user",
		Usage:   "The user of the master database",
		EnvVars: prefixEnvVars("MASTER_DB_USER"),
	}
	MasterDbPasswordFlag = &cli.StringFlag{
		Name:    "master-db-password",
		Usage:   "The password of the master database",
		EnvVars: prefixEnvVars("MASTER_DB_PASSWORD"),
	}
	MasterDbNameFlag = &cli.StringFlag{
		Name:    "master-db-name",
		Usage:   "The name of the master database",
		EnvVars: prefixEnvVars("MASTER_DB_NAME"),
	}
)

var requiredFlags = []cli.Flag{
	ChainRpcFlag,
}

var optionalFlags = []cli.Flag{
	ChainIdFlag,
	RequestTimeoutFlag,
	TxHashFlag,
	ContextsFileFlag,
	CacheSizeFlag,
	PersistFlag,
	RetryAttemptsFlag,
	MasterDbHostFlag,
	MasterDbPortFlag,
	MasterDbUserFlag,
	MasterDbPasswordFlag,
	MasterDbNameFlag,
}

// DBFlags configure the database only
var DBFlags = []cli.Flag{
	MigrationsFlag,
	MasterDbHostFlag,
	MasterDbPortFlag,
	MasterDbUserFlag,
	MasterDbPasswordFlag,
	MasterDbNameFlag,
}

func init() {
	Flags = append(requiredFlags, optionalFlags...)
}

var Flags []cli.Flag
