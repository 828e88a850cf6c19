// Package wazero exports registered bridge features to WebAssembly guests
// running in the wazero runtime.
//
// Export builds a host module (default name "frontrow_native") with one
// function per registered function, plus "read_<sensor>" and
// "write_<axis>" functions for sensors and axes. Guests import them like any
// other host function:
//
//	(import "frontrow_native" "multiply" (func (param i32 i32) (result i32)))
//
// # Value mapping
//
// byte, short, int and bool travel as i32, long as i64, float as f32 and
// double as f64. Strings and arrays travel as a single i64 packing a guest
// pointer in the upper 32 bits and a length in the lower 32 bits. String
// lengths are in bytes (UTF-8, no terminator); array lengths are element
// counts over little-endian elements (bool elements are one byte). string[]
// values are a JSON array of strings.
//
// Strings and arrays returned to the guest are written into memory obtained
// from the guest's "allocate" export, which must take an i32 size and return
// an i32 pointer.
//
// # Basic Usage
//
//	runtime := wazero.NewRuntime(ctx)
//	d := dispatch.New(reg)
//	if _, err := bridgewazero.Export(ctx, runtime, d, reg); err != nil {
//	    return err
//	}
//	guest, err := runtime.Instantiate(ctx, wasmBytes)
//
// Invocation failures abort the guest call: wazero returns them as the
// error of the guest's exported function.
package wazero
