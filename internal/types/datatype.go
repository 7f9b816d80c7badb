package types

import "fmt"

// DataType is a scalar kind of the SupMCU wire format.
type DataType int

const (
	DataTypeString DataType = iota
	DataTypeChar
	DataTypeUint8
	DataTypeInt8
	DataTypeUint16
	DataTypeInt16
	DataTypeUint32
	DataTypeInt32
	DataTypeUint64
	DataTypeInt64
	DataTypeFloat32
	DataTypeFloat64
	DataTypeHex8
	DataTypeHex16
)

type dataTypeInfo struct {
	char byte
	size int // 0 = variable
	name string
}

var dataTypeTable = [...]dataTypeInfo{
	DataTypeString:  {'S', 0, "string"},
	DataTypeChar:    {'c', 1, "char"},
	DataTypeUint8:   {'u', 1, "uint8"},
	DataTypeInt8:    {'t', 1, "int8"},
	DataTypeUint16:  {'s', 2, "uint16"},
	DataTypeInt16:   {'n', 2, "int16"},
	DataTypeUint32:  {'i', 4, "uint32"},
	DataTypeInt32:   {'d', 4, "int32"},
	DataTypeUint64:  {'l', 8, "uint64"},
	DataTypeInt64:   {'k', 8, "int64"},
	DataTypeFloat32: {'f', 4, "float32"},
	DataTypeFloat64: {'F', 8, "float64"},
	DataTypeHex8:    {'x', 1, "hex8"},
	DataTypeHex16:   {'z', 2, "hex16"},
}

// format character -> DataType, built once
var charToDataType = func() map[byte]DataType {
	m := make(map[byte]DataType, len(dataTypeTable))
	for dt, info := range dataTypeTable {
		m[info.char] = DataType(dt)
	}
	return m
}()

// DataTypeFromChar maps a format character to its DataType.
// Separators and unknown characters return false.
func DataTypeFromChar(c byte) (DataType, bool) {
	dt, ok := charToDataType[c]
	return dt, ok
}

func (d DataType) valid() bool {
	return d >= 0 && int(d) < len(dataTypeTable)
}

// Char returns the format character of the type.
func (d DataType) Char() byte {
	if !d.valid() {
		return 0
	}
	return dataTypeTable[d].char
}

// Size returns the fixed byte width. ok is false for String.
func (d DataType) Size() (size int, ok bool) {
	if !d.valid() || dataTypeTable[d].size == 0 {
		return 0, false
	}
	return dataTypeTable[d].size, true
}

func (d DataType) IsHex() bool {
	return d == DataTypeHex8 || d == DataTypeHex16
}

func (d DataType) String() string {
	if !d.valid() {
		return fmt.Sprintf("DataType(%d)", int(d))
	}
	return dataTypeTable[d].name
}

// MarshalText renders the type by name for JSON/YAML definition files.
func (d DataType) MarshalText() ([]byte, error) {
	if !d.valid() {
		return nil, fmt.Errorf("invalid data type %d", int(d))
	}
	return []byte(dataTypeTable[d].name), nil
}

func (d *DataType) UnmarshalText(text []byte) error {
	for dt, info := range dataTypeTable {
		if info.name == string(text) {
			*d = DataType(dt)
			return nil
		}
	}
	return fmt.Errorf("unknown data type %q", string(text))
}
