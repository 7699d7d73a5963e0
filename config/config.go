package config

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/DQYXACML/tracecodex/flags"
)

var ErrPersistWithoutDB = errors.New("persist requires a master database host and name")

type Config struct {
	Chain    ChainConfig
	MasterDB DBConfig
	Trace    TraceConfig
}

type ChainConfig struct {
	ChainRpcUrl    string
	ChainId        uint
	RequestTimeout time.Duration
}

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

// Enabled reports whether a database was configured
func (c DBConfig) Enabled() bool {
	return c.Host != "" && c.Name != ""
}

type TraceConfig struct {
	TxHash        string
	ContextsFile  string
	CacheSize     int
	Persist       bool
	RetryAttempts int
}

func LoadConfig(cliCtx *cli.Context) (Config, error) {
	cfg := NewConfig(cliCtx)
	if cfg.Trace.Persist && !cfg.MasterDB.Enabled() {
		return cfg, ErrPersistWithoutDB
	}
	log.Info("Loaded config", "rpc", cfg.Chain.ChainRpcUrl, "contexts", cfg.Trace.ContextsFile, "persist", cfg.Trace.Persist)
	return cfg, nil
}

func NewConfig(cliCtx *cli.Context) Config {
	return Config{
		Chain: ChainConfig{
			ChainId:        cliCtx.Uint(flags.ChainIdFlag.Name),
			ChainRpcUrl:    cliCtx.String(flags.ChainRpcFlag.Name),
			RequestTimeout: cliCtx.Duration(flags.RequestTimeoutFlag.Name),
		},
		MasterDB: NewDBConfig(cliCtx),
		Trace: TraceConfig{
			TxHash:        cliCtx.String(flags.TxHashFlag.Name),
			ContextsFile:  cliCtx.String(flags.ContextsFileFlag.Name),
			CacheSize:     cliCtx.Int(flags.CacheSizeFlag.Name),
			Persist:       cliCtx.Bool(flags.PersistFlag.Name),
			RetryAttempts: cliCtx.Int(flags.RetryAttemptsFlag.Name),
		},
	}
}

func NewDBConfig(cliCtx *cli.Context) DBConfig {
	return DBConfig{
		Host:     cliCtx.String(flags.MasterDbHostFlag.Name),
		Port:     cliCtx.Int(flags.MasterDbPortFlag.Name),
		Name:     cliCtx.String(flags.MasterDbNameFlag.Name),
		User:     cliCtx.String(flags.MasterDbUserFlag.Name),
		Password: cliCtx.String(flags.MasterDbPasswordFlag.Name),
	}
}
