// Package artifact loads compiled contract artifacts and turns command line
// constructor arguments into values the ABI encoder accepts.
package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	ErrNoBytecode   = errors.New("artifact has no deployment bytecode")
	ErrArgCount     = errors.New("constructor argument count mismatch")
	ErrUnlinkedCode = errors.New("artifact bytecode has unlinked libraries")
)

// Template is a deployable contract: its ABI and creation bytecode without
// constructor arguments.
type Template struct {
	Name     string
	ABI      abi.ABI
	Bytecode []byte
}

// hardhat writes bytecode as a string, foundry as {"object": "0x.."}.
type rawArtifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     json.RawMessage `json:"bytecode"`
}

type foundryBytecode struct {
	Object string `json:"object"`
}

// Load reads a hardhat or foundry artifact file.
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tmpl, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("artifact %s: %w", path, err)
	}
	if tmpl.Name == "" {
		tmpl.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return tmpl, nil
}

// Parse decodes artifact JSON.
func Parse(data []byte) (*Template, error) {
	var raw rawArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	parsed, err := abi.JSON(bytes.NewReader(raw.ABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	var code string
	if err := json.Unmarshal(raw.Bytecode, &code); err != nil {
		var fb foundryBytecode
		if err := json.Unmarshal(raw.Bytecode, &fb); err != nil {
			return nil, fmt.Errorf("parse bytecode: %w", err)
		}
		code = fb.Object
	}
	if strings.Contains(code, "__") {
		return nil, ErrUnlinkedCode
	}
	if !strings.HasPrefix(code, "0x") {
		code = "0x" + code
	}
	bin, err := hexutil.Decode(code)
	if err != nil {
		return nil, fmt.Errorf("parse bytecode: %w", err)
	}
	if len(bin) == 0 {
		return nil, ErrNoBytecode
	}
	return &Template{Name: raw.ContractName, ABI: parsed, Bytecode: bin}, nil
}

// ParseArgs converts string arguments into the Go types the constructor
// inputs pack from. Scalars use their natural text form; arrays and tuples
// are given as JSON.
func (t *Template) ParseArgs(args []string) ([]any, error) {
	inputs := t.ABI.Constructor.Inputs
	if len(inputs) != len(args) {
		return nil, fmt.Errorf("%w: %s takes %d, got %d", ErrArgCount, t.Name, len(inputs), len(args))
	}
	out := make([]any, len(args))
	for i, in := range inputs {
		v, err := parseArg(in.Type, args[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d (%s %s): %w", i, in.Type.String(), in.Name, err)
		}
		out[i] = v
	}
	return out, nil
}

// FormatArgs renders packed-ready values back to the text form ParseArgs
// accepts, for tools that take arguments on the command line.
func FormatArgs(args []any) []string {
	out := make([]string, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case common.Address:
			out[i] = v.Hex()
		case *big.Int:
			out[i] = v.String()
		case []byte:
			out[i] = hexutil.Encode(v)
		case string:
			out[i] = v
		case bool:
			out[i] = strconv.FormatBool(v)
		default:
			rv := reflect.ValueOf(a)
			if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
				b := make([]byte, rv.Len())
				reflect.Copy(reflect.ValueOf(b), rv)
				out[i] = hexutil.Encode(b)
				continue
			}
			if enc, err := json.Marshal(a); err == nil {
				out[i] = string(enc)
			} else {
				out[i] = fmt.Sprint(a)
			}
		}
	}
	return out
}

func parseArg(t abi.Type, s string) (any, error) {
	switch t.T {
	case abi.AddressTy:
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		return common.HexToAddress(s), nil
	case abi.BoolTy:
		return strconv.ParseBool(s)
	case abi.StringTy:
		return s, nil
	case abi.BytesTy:
		return hexutil.Decode(s)
	case abi.FixedBytesTy:
		b, err := hexutil.Decode(s)
		if err != nil {
			return nil, err
		}
		if len(b) > t.Size {
			return nil, fmt.Errorf("%d bytes do not fit bytes%d", len(b), t.Size)
		}
		v := reflect.New(t.GetType()).Elem()
		reflect.Copy(v, reflect.ValueOf(b))
		return v.Interface(), nil
	case abi.UintTy, abi.IntTy:
		return parseInt(t, s)
	default:
		v := reflect.New(t.GetType())
		if err := json.Unmarshal([]byte(s), v.Interface()); err != nil {
			return nil, err
		}
		return v.Elem().Interface(), nil
	}
}

func parseInt(t abi.Type, s string) (any, error) {
	n, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	if t.T == abi.UintTy {
		if n.Sign() < 0 {
			return nil, fmt.Errorf("negative value %s for unsigned type", s)
		}
		if n.BitLen() > t.Size {
			return nil, fmt.Errorf("%s overflows uint%d", s, t.Size)
		}
	} else {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
		if n.Cmp(limit) >= 0 || n.Cmp(new(big.Int).Neg(limit)) < 0 {
			return nil, fmt.Errorf("%s overflows int%d", s, t.Size)
		}
	}
	// the encoder wants the exact Go kind for sizes up to 64 bits
	switch t.GetType().Kind() {
	case reflect.Uint8:
		return uint8(n.Uint64()), nil
	case reflect.Uint16:
		return uint16(n.Uint64()), nil
	case reflect.Uint32:
		return uint32(n.Uint64()), nil
	case reflect.Uint64:
		return n.Uint64(), nil
	case reflect.Int8:
		return int8(n.Int64()), nil
	case reflect.Int16:
		return int16(n.Int64()), nil
	case reflect.Int32:
		return int32(n.Int64()), nil
	case reflect.Int64:
		return n.Int64(), nil
	default:
		return n, nil
	}
}
