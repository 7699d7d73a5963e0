package serializers

import (
	"context"
	"fmt"
	"math/big"
	"reflect"

	"github.com/jackc/pgtype"
	"gorm.io/gorm/schema"
)

var (
	big10              = big.NewInt(10)
	u256BigIntOverflow = new(big.Int).Exp(big.NewInt(2), big.NewInt(256), nil)
)

// U256Serializer stores *big.Int values as NUMERIC(78) decimals
type U256Serializer struct{}

func init() {
	schema.RegisterSerializer("u256", U256Serializer{})
}

func (U256Serializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue interface{}) error {
	if dbValue == nil {
		return nil
	} else if field.FieldType != reflect.TypeOf((*big.Int)(nil)) {
		return fmt.Errorf("can only deserialize into a *big.Int: %T", field.FieldType)
	}

	var bigInt *big.Int
	switch v := dbValue.(type) {
	case string:
		parsed, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return fmt.Errorf("failed to parse numeric text: %s", v)
		}
		bigInt = parsed
	case []byte:
		parsed, ok := new(big.Int).SetString(string(v), 10)
		if !ok {
			return fmt.Errorf("failed to parse numeric text: %s", string(v))
		}
		bigInt = parsed
	default:
		numeric := new(pgtype.Numeric)
		if err := numeric.Scan(dbValue); err != nil {
			return err
		}
		bigInt = numeric.Int
		if numeric.Exp > 0 {
			factor := new(big.Int).Exp(big10, big.NewInt(int64(numeric.Exp)), nil)
			bigInt.Mul(bigInt, factor)
		}
	}

	if bigInt.Sign() < 0 || bigInt.Cmp(u256BigIntOverflow) >= 0 {
		return fmt.Errorf("deserialized number outside u256 range: %s", bigInt)
	}

	field.ReflectValueOf(ctx, dst).Set(reflect.ValueOf(bigInt))
	return nil
}

func (U256Serializer) Value(ctx context.Context, field *schema.Field, dst reflect.Value, fieldValue interface{}) (interface{}, error) {
	if fieldValue == nil || (field.FieldType.Kind() == reflect.Pointer && reflect.ValueOf(fieldValue).IsNil()) {
		return nil, nil
	} else if field.FieldType != reflect.TypeOf((*big.Int)(nil)) {
		return nil, fmt.Errorf("can only serialize a *big.Int: %T", field.FieldType)
	}

	bigIntValue := fieldValue.(*big.Int)
	if bigIntValue.Sign() < 0 || bigIntValue.Cmp(u256BigIntOverflow) >= 0 {
		return nil, fmt.Errorf("value outside u256 range: %s", bigIntValue)
	}

	// plain decimal text, pgtype.Numeric would switch to an exponent form
	return bigIntValue.String(), nil
}
