package tools

import (
	"encoding/binary"
	"encoding/json"
	"math"
)

func FmtJSONString(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "marshal data fail"
	}
	return string(data)
}

const (
	FloatMin = 0.000001
)

func IsFloatEqual(f1, f2 float64) bool {
	return math.Abs(f1-f2) < FloatMin
}

// Encodes an integer as a 4 bytes little endian unsigned value
func ConvertIntToByteArray(value int) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(value))
	return b
}

// Pads a JSON document with trailing spaces until its length is a multiple of 4
func PadJSONTo4Bytes(doc []byte) []byte {
	if padding := len(doc) % 4; padding != 0 {
		for i := 0; i < 4-padding; i++ {
			doc = append(doc, ' ')
		}
	}
	return doc
}
