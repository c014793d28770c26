/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package engine

// A tiny engine module assembled byte by byte. It follows the host ABI:
//
//	render(ptr, len, ratio, res) fills a 2x2 frame at 1024 with the byte
//	    source[0]+ratio, logs the source through env.console_log and returns
//	    0; an empty source returns 1 and last_error reports "syntax error".
//	dealloc bumps a counter exported as freed().
//	labels: "1:1\n16:9"; ratio 0 -> "2x2\n4x4", ratio 1 -> "4x2\n8x4\n16x8";
//	default geometry is 1/1.

const (
	wasmI32 = 0x7f
	wasmI64 = 0x7e

	opEnd       = 0x0b
	opIf        = 0x04
	opElse      = 0x05
	opReturn    = 0x0f
	opCall      = 0x10
	opLocalGet  = 0x20
	opGlobalGet = 0x23
	opGlobalSet = 0x24
	opLoad8U    = 0x2d
	opI32Const  = 0x41
	opI64Const  = 0x42
	opI32Eqz    = 0x45
	opI32Add    = 0x6a
	opI32Mul    = 0x6c

	testFrameAt  = 1024
	testSourceAt = 256
)

func uleb(v uint64) []byte {
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

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func vec(items ...[]byte) []byte { return cat(uleb(uint64(len(items))), cat(items...)) }

func wname(s string) []byte { return cat(uleb(uint64(len(s))), []byte(s)) }

func section(id byte, payload []byte) []byte {
	return cat([]byte{id}, uleb(uint64(len(payload))), payload)
}

func functype(params, results []byte) []byte {
	return cat([]byte{0x60}, uleb(uint64(len(params))), params, uleb(uint64(len(results))), results)
}

func i32c(v int32) []byte { return cat([]byte{opI32Const}, sleb(int64(v))) }

func i64c(v int64) []byte { return cat([]byte{opI64Const}, sleb(v)) }

func packed(ptr, n uint32) int64 { return int64(uint64(ptr)<<32 | uint64(n)) }

// body wraps an instruction sequence without locals into a code entry.
func body(instrs ...[]byte) []byte {
	b := cat([]byte{0x00}, cat(instrs...), []byte{opEnd})
	return cat(uleb(uint64(len(b))), b)
}

type testFunc struct {
	name string
	typ  byte
	code []byte
}

// testEngineModule assembles the module, leaving out the exports named in
// omit.
func testEngineModule(omit ...string) []byte {
	const (
		tLog      = iota // (i32, i32) -> ()
		tAlloc           // (i32) -> i32
		tRender          // (i32, i32, i32, i32) -> i32
		tPacked          // () -> i64
		tI32             // () -> i32
		tDimLabel        // (i32) -> i64
	)
	types := vec(
		functype([]byte{wasmI32, wasmI32}, nil),
		functype([]byte{wasmI32}, []byte{wasmI32}),
		functype([]byte{wasmI32, wasmI32, wasmI32, wasmI32}, []byte{wasmI32}),
		functype(nil, []byte{wasmI64}),
		functype(nil, []byte{wasmI32}),
		functype([]byte{wasmI32}, []byte{wasmI64}),
	)
	imports := vec(cat(wname("env"), wname("console_log"), []byte{0x00}, uleb(tLog)))

	const gW, gH, gFreed = 0, 1, 2
	get := func(i byte) []byte { return []byte{opGlobalGet, i} }
	set := func(i byte) []byte { return []byte{opGlobalSet, i} }
	local := func(i byte) []byte { return []byte{opLocalGet, i} }

	funcs := []testFunc{
		{"alloc", tAlloc, body(i32c(testSourceAt))},
		{"dealloc", tLog, body(get(gFreed), i32c(1), []byte{opI32Add}, set(gFreed))},
		{"render", tRender, body(
			local(1), []byte{opI32Eqz, opIf, 0x40}, i32c(1), []byte{opReturn, opEnd},
			local(0), local(1), []byte{opCall, 0x00},
			i32c(2), set(gW), i32c(2), set(gH),
			i32c(testFrameAt), local(0), []byte{opLoad8U, 0x00, 0x00}, local(2), []byte{opI32Add},
			i32c(16), []byte{0xfc}, uleb(11), []byte{0x00},
			i32c(0),
		)},
		{"last_error", tPacked, body(i64c(packed(64, 12)))},
		{"canvas_width", tI32, body(get(gW))},
		{"canvas_height", tI32, body(get(gH))},
		{"canvas_aspect_ratio", tI32, body(i32c(1))},
		{"canvas_resolution", tI32, body(i32c(1))},
		{"get_buffer_ptr", tI32, body(i32c(testFrameAt))},
		{"get_buffer_size", tI32, body(get(gW), get(gH), []byte{opI32Mul}, i32c(4), []byte{opI32Mul})},
		{"aspect_ratio_strings", tPacked, body(i64c(packed(16, 8)))},
		{"dim_strings", tDimLabel, body(
			local(0), []byte{opI32Eqz, opIf, wasmI64}, i64c(packed(32, 7)),
			[]byte{opElse}, i64c(packed(48, 12)), []byte{opEnd},
		)},
		{"freed", tI32, body(get(gFreed))},
	}

	skip := map[string]bool{}
	for _, n := range omit {
		skip[n] = true
	}
	var fnTypes, codes, exports [][]byte
	for i, f := range funcs {
		fnTypes = append(fnTypes, []byte{f.typ})
		codes = append(codes, f.code)
		if !skip[f.name] {
			// index 0 is the imported console_log
			exports = append(exports, cat(wname(f.name), []byte{0x00}, uleb(uint64(i+1))))
		}
	}
	if !skip["memory"] {
		exports = append(exports, cat(wname("memory"), []byte{0x02, 0x00}))
	}

	global := cat([]byte{wasmI32, 0x01}, i32c(0), []byte{opEnd})
	data := func(at int32, s string) []byte {
		return cat([]byte{0x00}, i32c(at), []byte{opEnd}, wname(s))
	}

	return cat(
		[]byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00},
		section(1, types),
		section(2, imports),
		section(3, vec(fnTypes...)),
		section(5, vec([]byte{0x00, 0x01})),
		section(6, vec(global, global, global)),
		section(7, vec(exports...)),
		section(10, vec(codes...)),
		section(11, vec(
			data(16, "1:1\n16:9"),
			data(32, "2x2\n4x4"),
			data(48, "4x2\n8x4\n16x8"),
			data(64, "syntax error"),
		)),
	)
}
