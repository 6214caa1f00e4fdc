package region

import (
	"fmt"
	"reflect"
)

// checkLayout rejects types that cannot live outside the Go heap. Sealed
// memory is invisible to the garbage collector and cannot take write
// barriers, so T must be plain data: booleans, numbers, and arrays or
// structs of them.
func checkLayout(t reflect.Type) error {
	if t == nil {
		return fmt.Errorf("%w: interface type", ErrUnsupportedType)
	}
	if path, kind, ok := firstPointer(t, t.String()); ok {
		return fmt.Errorf("%w: %s has %s", ErrUnsupportedType, path, kind)
	}
	return nil
}

func firstPointer(t reflect.Type, path string) (string, reflect.Kind, bool) {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return "", 0, false
	case reflect.Array:
		return firstPointer(t.Elem(), path+"[]")
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if p, k, ok := firstPointer(f.Type, path+"."+f.Name); ok {
				return p, k, true
			}
		}
		return "", 0, false
	default:
		return path, t.Kind(), true
	}
}
