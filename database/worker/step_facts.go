package worker

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/DQYXACML/tracecodex/tracing"
)

// StepFact is the persisted form of the facts reconstructed for one step
type StepFact struct {
	GUID            uuid.UUID      `gorm:"primaryKey" json:"guid"`
	TxHash          common.Hash    `gorm:"serializer:bytes;column:tx_hash;index" json:"tx_hash"`
	StepIndex       int            `gorm:"column:step_index" json:"step_index"`
	Pc              uint64         `json:"pc"`
	Op              string         `json:"op"`
	Depth           int            `json:"depth"`
	GasCost         uint64         `gorm:"column:gas_cost" json:"gas_cost"`
	ContextID       string         `gorm:"column:context_id" json:"context_id"`
	ContextName     string         `gorm:"column:context_name" json:"context_name"`
	IsConstructor   bool           `gorm:"column:is_constructor" json:"is_constructor"`
	StorageAddress  common.Address `gorm:"serializer:bytes;column:storage_address" json:"storage_address"`
	CallAddress     []byte         `gorm:"serializer:bytes;column:call_address" json:"call_address"`
	CallValue       *big.Int       `gorm:"serializer:u256;column:call_value" json:"call_value"`
	CallData        []byte         `gorm:"serializer:bytes;column:call_data" json:"call_data"`
	CreatedAddress  []byte         `gorm:"serializer:bytes;column:created_address" json:"created_address"`
	ReturnValue     []byte         `gorm:"serializer:bytes;column:return_value" json:"return_value"`
	Halt            string         `json:"halt"`
	ReturnStatus    *bool          `gorm:"column:return_status" json:"return_status"`
	IsContextChange bool           `gorm:"column:is_context_change" json:"is_context_change"`
	IsInstant       bool           `gorm:"column:is_instant" json:"is_instant"`
	CodexLen        int            `gorm:"column:codex_len" json:"codex_len"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (StepFact) TableName() string {
	return "step_facts"
}

// NewStepFact flattens the facts of one step of txHash into a row
func NewStepFact(txHash common.Hash, f *tracing.StepFacts) StepFact {
	row := StepFact{
		GUID:            uuid.New(),
		TxHash:          txHash,
		StepIndex:       f.Index,
		Pc:              f.Pc,
		Op:              f.Op,
		Depth:           f.Depth,
		GasCost:         f.GasCost,
		Halt:            f.Halt.State.String(),
		ReturnStatus:    f.Halt.ReturnStatus,
		IsContextChange: f.IsContextChange,
		IsInstant:       f.IsInstantCallOrCreate,
		CodexLen:        f.CodexLen,
	}
	if f.Frame != nil {
		row.StorageAddress = f.Frame.StorageAddress
	}
	if f.Context != nil {
		row.ContextID = string(f.Context.ID)
		row.ContextName = f.Context.Name
		row.IsConstructor = f.Context.IsConstructor
	}
	if args := f.Arguments; args != nil {
		if args.CallAddress != nil {
			row.CallAddress = args.CallAddress.Bytes()
		}
		if args.CreatedAddress != nil {
			row.CreatedAddress = args.CreatedAddress.Bytes()
		}
		row.CallValue = args.CallValue
		if row.CallValue == nil {
			row.CallValue = args.CreateValue
		}
		row.CallData = args.CallData
		if row.CallData == nil {
			row.CallData = args.CreateBinary
		}
		row.ReturnValue = args.ReturnValue
	}
	return row
}

type StepFactsView interface {
	QueryStepFactsByTx(txHash common.Hash) ([]StepFact, error)
}

type StepFactsDB interface {
	StepFactsView

	StoreStepFacts([]StepFact, int) error
	DeleteStepFactsByTx(txHash common.Hash) error
}

type stepFactsDB struct {
	gorm *gorm.DB
}

func (s *stepFactsDB) QueryStepFactsByTx(txHash common.Hash) ([]StepFact, error) {
	var facts []StepFact
	err := s.gorm.Table("step_facts").
		Where("tx_hash = ?", txHash.Bytes()).
		Order("step_index").
		Find(&facts).
		Error
	if err != nil {
		return nil, err
	}
	return facts, nil
}

func (s *stepFactsDB) StoreStepFacts(facts []StepFact, batchSize int) error {
	if len(facts) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = len(facts)
	}
	return s.gorm.Table("step_facts").CreateInBatches(&facts, batchSize).Error
}

func (s *stepFactsDB) DeleteStepFactsByTx(txHash common.Hash) error {
	return s.gorm.Table("step_facts").
		Where("tx_hash = ?", txHash.Bytes()).
		Delete(&StepFact{}).
		Error
}

func NewStepFactsDB(db *gorm.DB) StepFactsDB {
	return &stepFactsDB{
		gorm: db,
	}
}
