package serializers

import (
	"context"
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"gorm.io/gorm/schema"
)

type BytesInterface interface{ Bytes() []byte }
type SetBytesInterface interface{ SetBytes([]byte) }

type BytesSerializer struct{}

func init() {
	schema.RegisterSerializer("bytes", BytesSerializer{})
}

func (BytesSerializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue interface{}) error {
	if dbValue == nil {
		return nil
	}

	var raw []byte
	switch v := dbValue.(type) {
	case []byte:
		raw = v
	case string:
		// bytea rendered as text: \x prefixed hex
		decoded, err := hexutil.Decode("0x" + trimByteaPrefix(v))
		if err != nil {
			return fmt.Errorf("failed to decode bytea text: %w", err)
		}
		raw = decoded
	default:
		return fmt.Errorf("expected []byte or string, got %T", dbValue)
	}

	fieldValue := reflect.New(field.FieldType)
	if setter, ok := fieldValue.Interface().(SetBytesInterface); ok {
		setter.SetBytes(raw)
	} else if field.FieldType.Kind() == reflect.Slice && field.FieldType.Elem().Kind() == reflect.Uint8 {
		fieldValue.Elem().SetBytes(append([]byte(nil), raw...))
	} else {
		return fmt.Errorf("cannot deserialize bytes into %s", field.FieldType)
	}

	field.ReflectValueOf(ctx, dst).Set(fieldValue.Elem())
	return nil
}

func (BytesSerializer) Value(ctx context.Context, field *schema.Field, dst reflect.Value, fieldValue interface{}) (interface{}, error) {
	if fieldValue == nil {
		return nil, nil
	}
	switch v := fieldValue.(type) {
	case BytesInterface:
		return v.Bytes(), nil
	case []byte:
		if v == nil {
			return nil, nil
		}
		return v, nil
	}
	rv := reflect.ValueOf(fieldValue)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		if rv.IsNil() {
			return nil, nil
		}
		return rv.Bytes(), nil
	}
	return nil, fmt.Errorf("cannot serialize %T as bytes", fieldValue)
}

func trimByteaPrefix(s string) string {
	if len(s) >= 2 && s[0] == '\\' && s[1] == 'x' {
		return s[2:]
	}
	return s
}
