package worker

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/DQYXACML/tracecodex/tracing"
)

// KnownContext is a registry entry kept in postgres
type KnownContext struct {
	GUID          uuid.UUID `gorm:"primaryKey" json:"guid"`
	ContextID     string    `gorm:"column:context_id;uniqueIndex" json:"context_id"`
	Name          string    `json:"name"`
	Binary        []byte    `gorm:"serializer:bytes;column:code" json:"binary"`
	IsConstructor bool      `gorm:"column:is_constructor" json:"is_constructor"`
	Compiler      string    `json:"compiler"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (KnownContext) TableName() string {
	return "known_contexts"
}

// Context converts the row into a registry context
func (k KnownContext) Context() tracing.Context {
	return tracing.Context{
		ID:            tracing.ContextID(k.ContextID),
		Name:          k.Name,
		Binary:        k.Binary,
		IsConstructor: k.IsConstructor,
		Compiler:      k.Compiler,
	}
}

// NewKnownContext builds a row for ctx
func NewKnownContext(ctx tracing.Context) KnownContext {
	return KnownContext{
		GUID:          uuid.New(),
		ContextID:     string(ctx.ID),
		Name:          ctx.Name,
		Binary:        ctx.Binary,
		IsConstructor: ctx.IsConstructor,
		Compiler:      ctx.Compiler,
	}
}

type KnownContextsView interface {
	QueryKnownContexts() ([]KnownContext, error)
	QueryKnownContextByID(id string) (*KnownContext, error)
}

type KnownContextsDB interface {
	KnownContextsView

	StoreKnownContexts([]KnownContext) error
}

type knownContextsDB struct {
	gorm *gorm.DB
}

func (k *knownContextsDB) QueryKnownContexts() ([]KnownContext, error) {
	var contexts []KnownContext
	err := k.gorm.Table("known_contexts").Order("created_at").Find(&contexts).Error
	if err != nil {
		return nil, err
	}
	return contexts, nil
}

func (k *knownContextsDB) QueryKnownContextByID(id string) (*KnownContext, error) {
	var ctx KnownContext
	err := k.gorm.Table("known_contexts").Where("context_id = ?", id).Take(&ctx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ctx, nil
}

func (k *knownContextsDB) StoreKnownContexts(contexts []KnownContext) error {
	if len(contexts) == 0 {
		return nil
	}
	return k.gorm.Table("known_contexts").CreateInBatches(&contexts, len(contexts)).Error
}

func NewKnownContextsDB(db *gorm.DB) KnownContextsDB {
	return &knownContextsDB{
		gorm: db,
	}
}
