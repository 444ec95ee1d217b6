// Package serialization provides the deterministic binary encoding used for kernel keys.
//
// Values are written little-endian in the order they are appended, with no framing, tags or
// alignment:
//
//	int8/bool  1 byte (bool is 0 or 1)
//	int32      4 bytes
//	int64      8 bytes
//	float32    4 bytes, IEEE-754 bits
//	padding    n zero bytes
//
// A Deserializer reads the same sequence back and rejects anything a Serializer could not
// have produced (short input, trailing bytes, booleans other than 0/1, non-zero padding), so
// that equal values and equal byte strings are the same thing.
//
// Example usage:
//
//	s := serialization.NewSerializer(16)
//	s.AppendInt32(alg)
//	s.AppendBool(isFirst)
//	s.AppendPadding(3)
//	key := s.Bytes()
//
//	d := serialization.NewDeserializer(key)
//	alg := d.PopInt32("alg")
//	isFirst := d.PopBool("is_first")
//	d.PopPadding("padding", 3)
//	if err := d.Finish(); err != nil {
//	    return err
//	}
package serialization
