package cel

import (
	"bytes"
	"net"
	"path/filepath"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/Sentinel-Gate/tapgate/pkg/intercept"
)

// NewMessageEnvironment creates a CEL environment for rule conditions. It includes:
//   - Message variables: kind, size, data
//   - Connection variables: connection_id, module, protocol, src_ip, src_port,
//     src_path, dst_ip, dst_port, dst_path
//   - Custom functions: glob, ip_in_cidr, bytes_contains
func NewMessageEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("kind", cel.StringType),
		cel.Variable("size", cel.IntType),
		cel.Variable("data", cel.BytesType),

		cel.Variable("connection_id", cel.StringType),
		cel.Variable("module", cel.StringType),
		cel.Variable("protocol", cel.StringType),
		cel.Variable("src_ip", cel.StringType),
		cel.Variable("src_port", cel.IntType),
		cel.Variable("src_path", cel.StringType),
		cel.Variable("dst_ip", cel.StringType),
		cel.Variable("dst_port", cel.IntType),
		cel.Variable("dst_path", cel.StringType),

		// glob: shell pattern match, e.g. glob("openssl-*", connection_id)
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		// ip_in_cidr: ip_in_cidr(dst_ip, "10.0.0.0/8")
		cel.Function("ip_in_cidr",
			cel.Overload("ip_in_cidr_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(ipVal, cidrVal ref.Val) ref.Val {
					ip := net.ParseIP(ipVal.Value().(string))
					if ip == nil {
						return types.Bool(false)
					}
					_, network, err := net.ParseCIDR(cidrVal.Value().(string))
					if err != nil {
						return types.Bool(false)
					}
					return types.Bool(network.Contains(ip))
				}),
			),
		),

		// bytes_contains: bytes_contains(data, "GET ")
		cel.Function("bytes_contains",
			cel.Overload("bytes_contains_bytes_string",
				[]*cel.Type{cel.BytesType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(dataVal, subVal ref.Val) ref.Val {
					data := dataVal.Value().([]byte)
					sub := subVal.Value().(string)
					return types.Bool(bytes.Contains(data, []byte(sub)))
				}),
			),
			cel.Overload("bytes_contains_bytes_bytes",
				[]*cel.Type{cel.BytesType, cel.BytesType},
				cel.BoolType,
				cel.BinaryBinding(func(dataVal, subVal ref.Val) ref.Val {
					return types.Bool(bytes.Contains(dataVal.Value().([]byte), subVal.Value().([]byte)))
				}),
			),
		),
	)
}

// BuildActivation creates a CEL activation map from a message. Absent
// metadata yields empty strings and zero ports.
func BuildActivation(msg *intercept.Message) map[string]any {
	md := msg.Metadata
	data := msg.Data
	if data == nil {
		data = []byte{}
	}
	srcPort, _ := md.Int(intercept.TagSourcePort)
	dstPort, _ := md.Int(intercept.TagDestinationPort)

	return map[string]any{
		"kind": msg.Kind.String(),
		"size": int64(len(msg.Data)),
		"data": data,

		"connection_id": md.String(intercept.TagConnectionID),
		"module":        md.String(intercept.TagModule),
		"protocol":      md.String(intercept.TagProtocol),
		"src_ip":        md.String(intercept.TagSourceIP),
		"src_port":      srcPort,
		"src_path":      md.String(intercept.TagSourcePath),
		"dst_ip":        md.String(intercept.TagDestinationIP),
		"dst_port":      dstPort,
		"dst_path":      md.String(intercept.TagDestinationPath),
	}
}
