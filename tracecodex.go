package tracecodex

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/DQYXACML/tracecodex/config"
	"github.com/DQYXACML/tracecodex/database"
	"github.com/DQYXACML/tracecodex/database/worker"
	"github.com/DQYXACML/tracecodex/node"
	"github.com/DQYXACML/tracecodex/tracing"
	"github.com/DQYXACML/tracecodex/tracing/opcodes"
	"github.com/DQYXACML/tracecodex/tracing/utils"
)

const factsBatchSize = 3_000

// StepError records a step whose facts could not be decoded
type StepError struct {
	Index int    `json:"index"`
	Op    string `json:"op"`
	Err   string `json:"error"`
}

// Report is the outcome of inspecting one transaction
type Report struct {
	TxHash   common.Hash                  `json:"txHash"`
	Status   bool                         `json:"status"`
	Steps    int                          `json:"steps"`
	MaxDepth int                          `json:"maxDepth"`
	CodexLen int                          `json:"codexLen"`
	Facts    []*tracing.StepFacts         `json:"facts"`
	Errors   []StepError                  `json:"errors,omitempty"`
	Metrics  utils.MetricsSnapshot        `json:"metrics"`
	Contexts map[tracing.ContextID]string `json:"contexts"`
}

// Inspector rebuilds the execution context of every step of a transaction
type Inspector struct {
	ethClient node.EthClient
	db        *database.DB
	registry  *tracing.Registry
	cfg       *config.Config
}

func NewInspector(ctx context.Context, cfg *config.Config) (*Inspector, error) {
	ethClient, err := node.DialEthClient(ctx, cfg.Chain.ChainRpcUrl, cfg.Trace.RetryAttempts)
	if err != nil {
		log.Error("new eth client fail", "err", err)
		return nil, err
	}

	var db *database.DB
	if cfg.MasterDB.Enabled() {
		db, err = database.NewDB(ctx, cfg.MasterDB)
		if err != nil {
			log.Error("new database fail", "err", err)
			ethClient.Close()
			return nil, err
		}
	}

	inspector := newInspector(ethClient, db, cfg)
	if err := inspector.LoadContexts(); err != nil {
		inspector.Close()
		return nil, err
	}
	return inspector, nil
}

func newInspector(ethClient node.EthClient, db *database.DB, cfg *config.Config) *Inspector {
	return &Inspector{
		ethClient: ethClient,
		db:        db,
		registry:  tracing.NewRegistry(),
		cfg:       cfg,
	}
}

// Registry exposes the known contexts
func (i *Inspector) Registry() *tracing.Registry {
	return i.registry
}

// LoadContexts seeds the registry from the contexts file and the database.
func (i *Inspector) LoadContexts() error {
	if path := i.cfg.Trace.ContextsFile; path != "" {
		contexts, err := config.LoadContextsFile(path)
		if err != nil {
			return fmt.Errorf("failed to load contexts file: %w", err)
		}
		for _, ctx := range contexts {
			i.registry.Add(ctx)
		}
		log.Info("Loaded contexts file", "path", path, "contexts", len(contexts))
	}

	if i.db != nil {
		rows, err := i.db.Contexts.QueryKnownContexts()
		if err != nil {
			return fmt.Errorf("failed to query known contexts: %w", err)
		}
		for _, row := range rows {
			i.registry.Add(row.Context())
		}
		log.Info("Loaded known contexts", "rows", len(rows))
	}
	return nil
}

// Inspect fetches the trace of txHash and walks it step by step. Steps whose
// arguments cannot be decoded are reported and skipped; an inconsistent call
// depth aborts the whole transaction.
func (i *Inspector) Inspect(ctx context.Context, txHash common.Hash) (*Report, error) {
	start := time.Now()

	txData, err := i.loadTransaction(txHash)
	if err != nil {
		return nil, err
	}
	steps, err := i.ethClient.TraceSteps(txHash)
	if err != nil {
		return nil, err
	}
	if err := i.prefetchCodes(ctx, txData, steps); err != nil {
		return nil, err
	}

	session, err := tracing.NewSession(tracing.NewSliceCursor(steps), i.registry, txData, i.cfg.Trace.CacheSize)
	if err != nil {
		return nil, err
	}

	report := &Report{
		TxHash:   txHash,
		Status:   txData.Status,
		Steps:    len(steps),
		Contexts: make(map[tracing.ContextID]string),
	}
	for session.Step() != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		facts, err := session.Facts()
		if err != nil {
			var trErr *utils.TraceError
			if !errors.As(err, &trErr) || !trErr.Fatal() {
				return nil, err
			}
			report.Errors = append(report.Errors, StepError{Index: session.Index(), Op: session.Step().Op, Err: err.Error()})
			log.Warn("Skipping undecodable step", "index", session.Index(), "op", session.Step().Op, "err", err)
		} else {
			report.Facts = append(report.Facts, facts)
			if facts.Depth > report.MaxDepth {
				report.MaxDepth = facts.Depth
			}
			if facts.Context != nil && facts.Context.ID.Known() {
				report.Contexts[facts.Context.ID] = facts.Context.Name
			}
		}

		more, err := session.Next()
		if err != nil {
			log.Error("Trace reconstruction aborted", "tx", txHash, "index", session.Index(), "err", err)
			return nil, err
		}
		if !more {
			break
		}
	}
	report.CodexLen = session.CodexLen()
	report.Metrics = session.Metrics()

	log.Info("Inspected transaction", "tx", txHash, "steps", report.Steps, "maxDepth", report.MaxDepth,
		"errors", len(report.Errors), "metrics", report.Metrics.String(), "elapsed", time.Since(start))

	if i.cfg.Trace.Persist {
		if err := i.persist(txHash, report.Facts); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func (i *Inspector) loadTransaction(txHash common.Hash) (*tracing.Transaction, error) {
	tx, receipt, err := i.ethClient.TxWithReceipt(txHash)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transaction %s: %w", txHash, err)
	}

	chainID := new(big.Int).SetUint64(uint64(i.cfg.Chain.ChainId))
	if chainID.Sign() == 0 {
		if chainID, err = i.ethClient.ChainID(); err != nil {
			return nil, err
		}
	}
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover sender: %w", err)
	}
	header, err := i.ethClient.BlockHeaderByNumber(receipt.BlockNumber)
	if err != nil {
		return nil, err
	}

	gasPrice := receipt.EffectiveGasPrice
	if gasPrice == nil {
		gasPrice = tx.GasPrice()
	}
	txData := &tracing.Transaction{
		Hash:   txHash,
		Sender: sender,
		To:     tx.To(),
		Value:  tx.Value(),
		Input:  tx.Data(),
		Status: receipt.Status == types.ReceiptStatusSuccessful,
		Globals: tracing.Globals{
			Origin:      sender,
			GasPrice:    gasPrice,
			ChainID:     chainID,
			BlockNumber: receipt.BlockNumber,
			Coinbase:    header.Coinbase,
			Timestamp:   header.Time,
			Difficulty:  header.Difficulty,
			GasLimit:    header.GasLimit,
			BaseFee:     header.BaseFee,
		},
		Codes: make(map[common.Address][]byte),
	}
	if tx.To() == nil {
		addr := receipt.ContractAddress
		txData.ContractAddress = &addr
	}
	return txData, nil
}

// prefetchCodes loads the code of every account the trace calls into. Code is
// read from the parent block so accounts destroyed by the transaction keep it;
// accounts deployed earlier in the same block fall back to the block itself.
func (i *Inspector) prefetchCodes(ctx context.Context, txData *tracing.Transaction, steps []tracing.Step) error {
	targets := CallTargets(txData, steps)
	if len(targets) == 0 {
		return nil
	}

	block := txData.Globals.BlockNumber
	var parent *big.Int
	if block != nil && block.Sign() > 0 {
		parent = new(big.Int).Sub(block, common.Big1)
	}
	codes, err := i.ethClient.CodesAt(ctx, targets, parent)
	if err != nil {
		return err
	}

	var missing []common.Address
	for _, addr := range targets {
		if _, ok := codes[addr]; !ok {
			missing = append(missing, addr)
		}
	}
	if len(missing) > 0 && parent != nil {
		late, err := i.ethClient.CodesAt(ctx, missing, block)
		if err != nil {
			return err
		}
		for addr, code := range late {
			codes[addr] = code
		}
	}
	txData.Codes = codes
	log.Debug("Prefetched account code", "targets", len(targets), "withCode", len(codes))
	return nil
}

// CallTargets lists the recipient of the transaction and every address called
// by the trace, without duplicates.
func CallTargets(txData *tracing.Transaction, steps []tracing.Step) []common.Address {
	seen := make(map[common.Address]struct{})
	var targets []common.Address
	add := func(addr common.Address) {
		if _, ok := seen[addr]; ok {
			return
		}
		seen[addr] = struct{}{}
		targets = append(targets, addr)
	}

	if txData.To != nil {
		add(*txData.To)
	}
	for idx := range steps {
		c := opcodes.Classify(steps[idx].Op)
		if !c.IsCall {
			continue
		}
		addr, err := tracing.CallAddress(c, &steps[idx])
		if err != nil || addr == nil {
			continue
		}
		add(*addr)
	}
	return targets
}

func (i *Inspector) persist(txHash common.Hash, facts []*tracing.StepFacts) error {
	if i.db == nil {
		return config.ErrPersistWithoutDB
	}
	rows := make([]worker.StepFact, 0, len(facts))
	for _, f := range facts {
		rows = append(rows, worker.NewStepFact(txHash, f))
	}
	err := i.db.Transaction(func(tx *database.DB) error {
		if err := tx.StepFacts.DeleteStepFactsByTx(txHash); err != nil {
			return err
		}
		return tx.StepFacts.StoreStepFacts(rows, factsBatchSize)
	})
	if err != nil {
		log.Error("Failed to store step facts", "tx", txHash, "err", err)
		return err
	}
	log.Info("Stored step facts", "tx", txHash, "rows", len(rows))
	return nil
}

// ImportContexts stores the contexts the database does not know yet and
// returns how many were added.
func ImportContexts(db *database.DB, contexts []tracing.Context) (int, error) {
	var rows []worker.KnownContext
	for _, ctx := range contexts {
		if !ctx.ID.Known() {
			ctx.ID = tracing.BinaryContextID(ctx.Binary)
		}
		existing, err := db.Contexts.QueryKnownContextByID(string(ctx.ID))
		if err != nil {
			return 0, err
		}
		if existing == nil {
			rows = append(rows, worker.NewKnownContext(ctx))
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := db.Contexts.StoreKnownContexts(rows); err != nil {
		return 0, err
	}
	log.Info("Imported contexts", "new", len(rows), "total", len(contexts))
	return len(rows), nil
}

func (i *Inspector) Close() error {
	i.ethClient.Close()
	if i.db != nil {
		return i.db.Close()
	}
	return nil
}
