package soft

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/xcamgo/gocl/dtypes"
)

// ParamKind classifies kernel parameters.
type ParamKind int

const (
	ParamScalar ParamKind = iota
	ParamGlobalPtr
	ParamLocalPtr
	ParamImage
	ParamSampler
)

// String implements fmt.Stringer.
func (k ParamKind) String() string {
	switch k {
	case ParamScalar:
		return "scalar"
	case ParamGlobalPtr:
		return "global pointer"
	case ParamLocalPtr:
		return "local pointer"
	case ParamImage:
		return "image"
	case ParamSampler:
		return "sampler"
	default:
		return fmt.Sprintf("ParamKind(%d)", int(k))
	}
}

// Param describes one kernel parameter.
type Param struct {
	Name     string
	TypeName string
	Kind     ParamKind

	// DType and Width are set for scalar and vector parameters (Width > 1 for vectors).
	DType dtypes.DType
	Width int
}

// Signature of a kernel function found in a program.
type Signature struct {
	Name   string
	Params []Param
}

var (
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment  = regexp.MustCompile(`//[^\n]*`)
	reKernelDecl   = regexp.MustCompile(`(?:__kernel|\bkernel)\s+(?:__attribute__\s*\(\(.*?\)\)\s*)*void\s+(\w+)\s*\(([^)]*)\)`)
	reVectorType   = regexp.MustCompile(`^([a-z]+?)(2|3|4|8|16)$`)
	reIdentifier   = regexp.MustCompile(`^[A-Za-z_]\w*$`)

	addressSpaces = map[string]ParamKind{
		"__global":   ParamGlobalPtr,
		"global":     ParamGlobalPtr,
		"__constant": ParamGlobalPtr,
		"constant":   ParamGlobalPtr,
		"__local":    ParamLocalPtr,
		"local":      ParamLocalPtr,
	}
	ignoredQualifiers = map[string]bool{
		"const": true, "volatile": true, "restrict": true, "__restrict": true,
		"__private": true, "private": true,
		"__read_only": true, "read_only": true, "__write_only": true, "write_only": true,
		"__read_write": true, "read_write": true,
	}
	imageTypes = map[string]bool{"image1d_t": true, "image2d_t": true, "image3d_t": true, "image2d_array_t": true}
)

// stripComments replaces comments by spaces, keeping line numbers.
func stripComments(src string) string {
	keepLines := func(s string) string {
		return strings.Repeat("\n", strings.Count(s, "\n")) + " "
	}
	src = reBlockComment.ReplaceAllStringFunc(src, keepLines)
	return reLineComment.ReplaceAllString(src, " ")
}

// parseSource finds the kernel signatures of an OpenCL C source.
// It returns the build log diagnostics, and ok=false if there are errors.
func parseSource(source []byte) (sigs []Signature, diagnostics []string, ok bool) {
	errorf := func(line int, format string, args ...any) {
		diagnostics = append(diagnostics, fmt.Sprintf("<source>:%d: error: %s", line, fmt.Sprintf(format, args...)))
	}
	if len(bytes.TrimSpace(source)) == 0 {
		errorf(1, "empty program source")
		return nil, diagnostics, false
	}
	if idx := bytes.IndexByte(source, 0); idx >= 0 {
		errorf(1+bytes.Count(source[:idx], []byte("\n")), "unexpected NUL character in program source")
		return nil, diagnostics, false
	}
	src := stripComments(string(source))
	checkBalanced(src, errorf)
	if len(diagnostics) > 0 {
		return nil, diagnostics, false
	}

	for _, match := range reKernelDecl.FindAllStringSubmatchIndex(src, -1) {
		line := 1 + strings.Count(src[:match[0]], "\n")
		sig := Signature{Name: src[match[2]:match[3]]}
		for _, paramDecl := range strings.Split(src[match[4]:match[5]], ",") {
			paramDecl = strings.TrimSpace(paramDecl)
			if paramDecl == "" || paramDecl == "void" {
				continue
			}
			param, err := parseParam(paramDecl)
			if err != nil {
				errorf(line, "kernel %q: %v", sig.Name, err)
				continue
			}
			sig.Params = append(sig.Params, param)
		}
		for _, previous := range sigs {
			if previous.Name == sig.Name {
				errorf(line, "redefinition of kernel %q", sig.Name)
			}
		}
		sigs = append(sigs, sig)
	}
	if len(sigs) == 0 && len(diagnostics) == 0 {
		errorf(1, "no __kernel functions found in program source")
	}
	return sigs, diagnostics, len(diagnostics) == 0
}

// checkBalanced reports unbalanced brackets.
func checkBalanced(src string, errorf func(line int, format string, args ...any)) {
	type opener struct {
		char rune
		line int
	}
	closing := map[rune]rune{'}': '{', ')': '(', ']': '['}
	var stack []opener
	line := 1
	for _, r := range src {
		switch r {
		case '\n':
			line++
		case '{', '(', '[':
			stack = append(stack, opener{r, line})
		case '}', ')', ']':
			if len(stack) == 0 || stack[len(stack)-1].char != closing[r] {
				errorf(line, "unexpected '%c'", r)
				return
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		top := stack[len(stack)-1]
		errorf(top.line, "expected matching bracket for '%c' before end of source", top.char)
	}
}

// parseParam parses a parameter declaration like "__global const float *data".
func parseParam(decl string) (Param, error) {
	isPointer := strings.Contains(decl, "*")
	decl = strings.ReplaceAll(decl, "*", " ")
	fields := strings.Fields(decl)
	if len(fields) < 2 {
		return Param{}, errors.Errorf("invalid parameter declaration %q", decl)
	}
	param := Param{Name: fields[len(fields)-1], Kind: ParamScalar, Width: 1}
	if !reIdentifier.MatchString(param.Name) {
		return Param{}, errors.Errorf("invalid parameter name %q", param.Name)
	}
	addressSpace := ParamScalar
	var typeTokens []string
	for _, token := range fields[:len(fields)-1] {
		if kind, found := addressSpaces[token]; found {
			addressSpace = kind
			continue
		}
		if ignoredQualifiers[token] {
			continue
		}
		typeTokens = append(typeTokens, token)
	}
	param.TypeName = strings.Join(typeTokens, " ")
	if param.TypeName == "" {
		return Param{}, errors.Errorf("missing type for parameter %q", param.Name)
	}

	switch {
	case isPointer:
		if addressSpace == ParamScalar {
			return Param{}, errors.Errorf("pointer parameter %q must be declared __global, __constant or __local", param.Name)
		}
		param.Kind = addressSpace
		param.DType = dtypes.FromCLTypeName(param.TypeName) // Invalid for structs, which is fine.
	case imageTypes[param.TypeName]:
		param.Kind = ParamImage
	case param.TypeName == "sampler_t":
		param.Kind = ParamSampler
		param.DType = dtypes.Uint32
	default:
		param.DType = dtypes.FromCLTypeName(param.TypeName)
		if param.DType == dtypes.Invalid {
			if m := reVectorType.FindStringSubmatch(param.TypeName); m != nil {
				param.DType = dtypes.FromCLTypeName(m[1])
				param.Width, _ = strconv.Atoi(m[2])
			}
		}
		if param.DType == dtypes.Invalid || param.DType == dtypes.Bool {
			return Param{}, errors.Errorf("unknown type %q for parameter %q", param.TypeName, param.Name)
		}
	}
	return param, nil
}

// validateBuildOptions checks the build options are supported.
func validateBuildOptions(options string) error {
	fields := strings.Fields(options)
	for ii := 0; ii < len(fields); ii++ {
		opt := fields[ii]
		switch {
		case opt == "-D" || opt == "-I":
			if ii+1 >= len(fields) {
				return errors.Errorf("build option %q requires an argument", opt)
			}
			ii++
		case strings.HasPrefix(opt, "-D"), strings.HasPrefix(opt, "-I"), strings.HasPrefix(opt, "-cl-"),
			opt == "-w", opt == "-Werror", opt == "-g":
		default:
			return errors.Errorf("unsupported build option %q", opt)
		}
	}
	return nil
}
