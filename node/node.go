package node

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/sync/errgroup"

	"github.com/DQYXACML/tracecodex/tracing"
	"github.com/DQYXACML/tracecodex/tracing/utils"
)

const (
	defaultDialTimeout = 5 * time.Second

	defaultRequestTimeout = 100 * time.Second

	// concurrent eth_getCode requests per prefetch
	codeFetchLimit = 8
)

type myClient struct {
	rpc      RPC
	recovery *utils.ErrorRecovery
}

// structLogConfig asks the struct logger for everything step reconstruction reads.
var structLogConfig = map[string]any{
	"enableMemory":     true,
	"disableStack":     false,
	"disableStorage":   false,
	"enableReturnData": false,
}

type traceResult struct {
	Failed      bool           `json:"failed"`
	Gas         uint64         `json:"gas"`
	ReturnValue string         `json:"returnValue"`
	StructLogs  []tracing.Step `json:"structLogs"`
}

// TraceSteps replays the transaction with the default struct logger and returns
// one Step per executed instruction.
func (m *myClient) TraceSteps(hash common.Hash) ([]tracing.Step, error) {
	var res traceResult
	err := m.recovery.RetryWithRecovery(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
		defer cancel()
		if err := m.rpc.CallContext(ctx, &res, "debug_traceTransaction", hash, structLogConfig); err != nil {
			log.Warn("debug_traceTransaction failed", "hash", hash, "err", err)
			return classifyRPCError("debug_traceTransaction", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("Fetched struct logs", "hash", hash, "steps", len(res.StructLogs), "failed", res.Failed)
	return res.StructLogs, nil
}

// classifyRPCError marks transport failures and timeouts as retryable. Errors
// answered by the node itself, such as an unknown transaction or method, are
// returned as they are.
func classifyRPCError(method string, err error) error {
	var rpcErr rpc.Error
	var httpErr rpc.HTTPError
	switch {
	case errors.As(err, &rpcErr):
		return fmt.Errorf("%s: %w", method, err)
	case errors.As(err, &httpErr) && httpErr.StatusCode < 500:
		return fmt.Errorf("%s: %w", method, err)
	case errors.Is(err, context.DeadlineExceeded):
		return utils.NewTimeoutError(method, err)
	default:
		return utils.NewNetworkError(method, err)
	}
}

func (m *myClient) TxReceiptByHash(hash common.Hash) (*types.Receipt, error) {
	ctxwt, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()

	var txReceipt *types.Receipt
	err := m.rpc.CallContext(ctxwt, &txReceipt, "eth_getTransactionReceipt", hash)
	if err != nil {
		return nil, err
	} else if txReceipt == nil {
		return nil, ethereum.NotFound
	}

	return txReceipt, nil
}

func (m *myClient) TxByHash(hash common.Hash) (*types.Transaction, error) {
	ctxwt, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()

	var tx *types.Transaction
	err := m.rpc.CallContext(ctxwt, &tx, "eth_getTransactionByHash", hash)
	if err != nil {
		return nil, err
	} else if tx == nil {
		return nil, ethereum.NotFound
	}

	return tx, nil
}

// TxWithReceipt fetches a transaction and its receipt in one batch.
func (m *myClient) TxWithReceipt(hash common.Hash) (*types.Transaction, *types.Receipt, error) {
	var (
		tx      *types.Transaction
		receipt *types.Receipt
	)
	batchElems := []rpc.BatchElem{
		{Method: "eth_getTransactionByHash", Args: []interface{}{hash}, Result: &tx},
		{Method: "eth_getTransactionReceipt", Args: []interface{}{hash}, Result: &receipt},
	}

	ctxwt, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()
	if err := m.rpc.BatchCallContext(ctxwt, batchElems); err != nil {
		// some providers reject batches; fall back to single requests
		log.Warn("Batch request failed, querying one by one", "hash", hash, "err", err)
		return m.txWithReceiptSingle(hash)
	}
	for _, elem := range batchElems {
		if elem.Error != nil {
			return nil, nil, fmt.Errorf("unable to query %s: %w", elem.Method, elem.Error)
		}
	}
	if tx == nil || receipt == nil {
		return nil, nil, ethereum.NotFound
	}
	return tx, receipt, nil
}

func (m *myClient) txWithReceiptSingle(hash common.Hash) (*types.Transaction, *types.Receipt, error) {
	tx, err := m.TxByHash(hash)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to query eth_getTransactionByHash: %w", err)
	}
	receipt, err := m.TxReceiptByHash(hash)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to query eth_getTransactionReceipt: %w", err)
	}
	return tx, receipt, nil
}

func (m *myClient) BlockHeaderByNumber(b *big.Int) (*types.Header, error) {
	ctxwt, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	var header *types.Header
	err := m.rpc.CallContext(ctxwt, &header, "eth_getBlockByNumber", toBlockNumArg(b), false)
	if err != nil {
		log.Error("Call eth_getBlockByNumber method fail", "err", err)
		return nil, err
	} else if header == nil {
		log.Error("header not found")
		return nil, ethereum.NotFound
	}
	return header, nil
}

func (m *myClient) ChainID() (*big.Int, error) {
	ctxwt, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()

	var id hexutil.Big
	if err := m.rpc.CallContext(ctxwt, &id, "eth_chainId"); err != nil {
		return nil, err
	}
	return (*big.Int)(&id), nil
}

func (m *myClient) CodeAt(address common.Address, b *big.Int) ([]byte, error) {
	ctxwt, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()

	var code hexutil.Bytes
	if err := m.rpc.CallContext(ctxwt, &code, "eth_getCode", address, toBlockNumArg(b)); err != nil {
		return nil, err
	}
	return code, nil
}

// CodesAt fetches the code of every address at block b concurrently. Accounts
// without code are left out of the result.
func (m *myClient) CodesAt(ctx context.Context, addresses []common.Address, b *big.Int) (map[common.Address][]byte, error) {
	var (
		mu    sync.Mutex
		codes = make(map[common.Address][]byte, len(addresses))
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(codeFetchLimit)
	for _, addr := range addresses {
		addr := addr
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			code, err := m.CodeAt(addr, b)
			if err != nil {
				return fmt.Errorf("failed to fetch code of %s: %w", addr, err)
			}
			if len(code) == 0 {
				return nil
			}
			mu.Lock()
			codes[addr] = code
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return codes, nil
}

func (m *myClient) Close() {
	m.rpc.Close()
}

type RPC interface {
	Close()
	CallContext(ctx context.Context, result any, method string, args ...any) error
	BatchCallContext(ctx context.Context, b []rpc.BatchElem) error
}

type EthClient interface {
	BlockHeaderByNumber(*big.Int) (*types.Header, error)
	ChainID() (*big.Int, error)

	TxWithReceipt(common.Hash) (*types.Transaction, *types.Receipt, error)

	CodeAt(common.Address, *big.Int) ([]byte, error)
	CodesAt(context.Context, []common.Address, *big.Int) (map[common.Address][]byte, error)

	TraceSteps(hash common.Hash) ([]tracing.Step, error)

	Close()
}

// DialEthClient connects to rpcUrl. Trace requests failing with network errors
// are retried retryAttempts times.
func DialEthClient(ctx context.Context, rpcUrl string, retryAttempts int) (EthClient, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	rpcClient, err := rpc.DialContext(ctx, rpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to dial address (%s): %w", rpcUrl, err)
	}

	return NewEthClient(NewRPC(rpcClient), retryAttempts), nil
}

// NewEthClient wraps an existing RPC connection
func NewEthClient(r RPC, retryAttempts int) EthClient {
	return &myClient{
		rpc:      r,
		recovery: utils.NewErrorRecovery(retryAttempts),
	}
}

type rpcClient struct {
	rpc *rpc.Client
}

func NewRPC(client *rpc.Client) RPC {
	return &rpcClient{client}
}

func (c *rpcClient) Close() {
	c.rpc.Close()
}

func (c *rpcClient) CallContext(ctx context.Context, result any, method string, args ...any) error {
	err := c.rpc.CallContext(ctx, result, method, args...)
	return err
}

func (c *rpcClient) BatchCallContext(ctx context.Context, b []rpc.BatchElem) error {
	err := c.rpc.BatchCallContext(ctx, b)
	return err
}

func toBlockNumArg(b *big.Int) string {
	if b == nil {
		return "latest"
	}
	if b.Sign() >= 0 {
		return hexutil.EncodeBig(b)
	}
	return rpc.BlockNumber(b.Int64()).String()
}
