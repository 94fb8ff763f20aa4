package soft

import (
	"crypto/sha256"

	"github.com/pkg/errors"
	"github.com/xcamgo/gocl/dtypes"
	"google.golang.org/protobuf/encoding/protowire"
)

// Program binaries are protobuf wire-format messages:
//
//	message ProgramBinary {
//	  string magic = 1;             // binaryMagic
//	  uint64 version = 2;           // binaryVersion
//	  bytes source_digest = 3;      // sha256 of the source
//	  string options = 4;           // build options used
//	  repeated Kernel kernels = 5;
//	}
//	message Kernel {
//	  string name = 1;
//	  repeated Param params = 2;
//	}
//	message Param {
//	  string name = 1;
//	  string type_name = 2;
//	  uint64 kind = 3;
//	  uint64 dtype = 4;
//	  uint64 width = 5;
//	}
const (
	binaryMagic   = "xcl-soft-program"
	binaryVersion = 1
)

type programBinary struct {
	digest     [sha256.Size]byte
	options    string
	signatures []Signature
}

func encodeBinary(bin *programBinary) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, binaryMagic)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, binaryVersion)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, bin.digest[:])
	if bin.options != "" {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, bin.options)
	}
	for _, sig := range bin.signatures {
		var k []byte
		k = protowire.AppendTag(k, 1, protowire.BytesType)
		k = protowire.AppendString(k, sig.Name)
		for _, param := range sig.Params {
			var p []byte
			p = protowire.AppendTag(p, 1, protowire.BytesType)
			p = protowire.AppendString(p, param.Name)
			p = protowire.AppendTag(p, 2, protowire.BytesType)
			p = protowire.AppendString(p, param.TypeName)
			p = protowire.AppendTag(p, 3, protowire.VarintType)
			p = protowire.AppendVarint(p, uint64(param.Kind))
			p = protowire.AppendTag(p, 4, protowire.VarintType)
			p = protowire.AppendVarint(p, uint64(param.DType))
			p = protowire.AppendTag(p, 5, protowire.VarintType)
			p = protowire.AppendVarint(p, uint64(param.Width))
			k = protowire.AppendTag(k, 2, protowire.BytesType)
			k = protowire.AppendBytes(k, p)
		}
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, k)
	}
	return b
}

// forEachField calls fn for every field of the message in b. fn returns the number of bytes it consumed, or
// a negative protowire error code.
func forEachField(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		n = fn(num, typ, b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

// consumeString consumes a string field value into dst.
func consumeString(typ protowire.Type, b []byte, dst *string) int {
	if typ != protowire.BytesType {
		return protowire.ConsumeFieldValue(0, typ, b)
	}
	v, n := protowire.ConsumeString(b)
	if n >= 0 {
		*dst = v
	}
	return n
}

// consumeVarint consumes a varint field value into dst.
func consumeVarint(num protowire.Number, typ protowire.Type, b []byte, dst *uint64) int {
	if typ != protowire.VarintType {
		return protowire.ConsumeFieldValue(num, typ, b)
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = v
	}
	return n
}

func decodeBinary(data []byte) (*programBinary, error) {
	if len(data) == 0 {
		return nil, errors.New("empty program binary")
	}
	var (
		magic   string
		version uint64
		digest  []byte
		bin     = &programBinary{}
	)
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeString(typ, b, &magic)
		case 2:
			return consumeVarint(num, typ, b, &version)
		case 3:
			if typ != protowire.BytesType {
				return protowire.ConsumeFieldValue(num, typ, b)
			}
			v, n := protowire.ConsumeBytes(b)
			digest = v
			return n
		case 4:
			return consumeString(typ, b, &bin.options)
		case 5:
			if typ != protowire.BytesType {
				return protowire.ConsumeFieldValue(num, typ, b)
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			sig, err := decodeSignature(v)
			if err != nil {
				return -1
			}
			bin.signatures = append(bin.signatures, sig)
			return n
		default:
			return protowire.ConsumeFieldValue(num, typ, b)
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "malformed program binary")
	}
	if magic != binaryMagic {
		return nil, errors.Errorf("not a %q program binary", binaryMagic)
	}
	if version != binaryVersion {
		return nil, errors.Errorf("unsupported program binary version %d (expected %d)", version, binaryVersion)
	}
	if len(digest) != sha256.Size {
		return nil, errors.Errorf("invalid source digest of %d bytes", len(digest))
	}
	if len(bin.signatures) == 0 {
		return nil, errors.New("program binary has no kernels")
	}
	copy(bin.digest[:], digest)
	return bin, nil
}

func decodeSignature(data []byte) (Signature, error) {
	var sig Signature
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeString(typ, b, &sig.Name)
		case 2:
			if typ != protowire.BytesType {
				return protowire.ConsumeFieldValue(num, typ, b)
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			var param Param
			var kind, dtype, width uint64
			err := forEachField(v, func(num protowire.Number, typ protowire.Type, b []byte) int {
				switch num {
				case 1:
					return consumeString(typ, b, &param.Name)
				case 2:
					return consumeString(typ, b, &param.TypeName)
				case 3:
					return consumeVarint(num, typ, b, &kind)
				case 4:
					return consumeVarint(num, typ, b, &dtype)
				case 5:
					return consumeVarint(num, typ, b, &width)
				default:
					return protowire.ConsumeFieldValue(num, typ, b)
				}
			})
			if err != nil || kind > uint64(ParamSampler) || !dtypes.DType(dtype).IsADType() || width == 0 {
				return -1
			}
			param.Kind, param.DType, param.Width = ParamKind(kind), dtypes.DType(dtype), int(width)
			sig.Params = append(sig.Params, param)
			return n
		default:
			return protowire.ConsumeFieldValue(num, typ, b)
		}
	})
	if err != nil {
		return sig, err
	}
	if !reIdentifier.MatchString(sig.Name) {
		return sig, errors.Errorf("invalid kernel name %q", sig.Name)
	}
	return sig, nil
}
