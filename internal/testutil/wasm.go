package testutil

import (
	"github.com/tetratelabs/wazero/api"
)

// GuestImport is one host function a guest module imports.
type GuestImport struct {
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
}

// GuestModule assembles a WASM binary that imports every fn from module and
// re-exports a forwarder under the same name. Calling the guest export
// passes its arguments straight to the host function and returns its
// results.
func GuestModule(module string, imports ...GuestImport) []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	n := uint32(len(imports)) //nolint:gosec // G115: test fixture sizes

	// type section: one signature per import
	types := uleb(n)
	for _, imp := range imports {
		types = append(types, 0x60)
		types = append(types, valueTypes(imp.Params)...)
		types = append(types, valueTypes(imp.Results)...)
	}
	out = section(out, 1, types)

	// import section: func i has type i
	imps := uleb(n)
	for i, imp := range imports {
		imps = append(imps, name(module)...)
		imps = append(imps, name(imp.Name)...)
		imps = append(imps, 0x00)
		imps = append(imps, uleb(uint32(i))...) //nolint:gosec // G115: test fixture sizes
	}
	out = section(out, 2, imps)

	// function section: forwarder i has type i
	funcs := uleb(n)
	for i := range imports {
		funcs = append(funcs, uleb(uint32(i))...) //nolint:gosec // G115: test fixture sizes
	}
	out = section(out, 3, funcs)

	// export section: forwarder i is func n+i
	exports := uleb(n)
	for i, imp := range imports {
		exports = append(exports, name(imp.Name)...)
		exports = append(exports, 0x00)
		exports = append(exports, uleb(n+uint32(i))...) //nolint:gosec // G115: test fixture sizes
	}
	out = section(out, 7, exports)

	// code section: local.get each param, call the import
	code := uleb(n)
	for i, imp := range imports {
		body := []byte{0x00}
		for p := range imp.Params {
			body = append(body, 0x20)
			body = append(body, uleb(uint32(p))...) //nolint:gosec // G115: test fixture sizes
		}
		body = append(body, 0x10)
		body = append(body, uleb(uint32(i))...) //nolint:gosec // G115: test fixture sizes
		body = append(body, 0x0b)
		code = append(code, uleb(uint32(len(body)))...) //nolint:gosec // G115: test fixture sizes
		code = append(code, body...)
	}
	return section(out, 10, code)
}

func section(out []byte, id byte, content []byte) []byte {
	out = append(out, id)
	out = append(out, uleb(uint32(len(content)))...) //nolint:gosec // G115: test fixture sizes
	return append(out, content...)
}

func name(s string) []byte {
	return append(uleb(uint32(len(s))), s...) //nolint:gosec // G115: test fixture sizes
}

func valueTypes(types []api.ValueType) []byte {
	return append(uleb(uint32(len(types))), types...) //nolint:gosec // G115: test fixture sizes
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}
