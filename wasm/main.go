//go:build wasip1

// Command wasm exposes the validation boundary to a WebAssembly host. Build
// it as a reactor:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o jsonlatch.wasm ./wasm
//
// Every export panics on a fatal error, which traps the instance. The host
// has to discard it after a trap.
package main

import (
	"github.com/ipastusi/jsonlatch/cache"
	"github.com/ipastusi/jsonlatch/memory"
	"github.com/ipastusi/jsonlatch/schema"
	"github.com/ipastusi/jsonlatch/service"
)

var svc = newService()

func newService() *service.Service {
	engine, err := schema.NewEngine(schema.EngineKaptinlin)
	if err != nil {
		panic(err)
	}
	return service.NewService(nil, memory.NewHeap(0), schema.NewCompiler(engine), cache.PolicyFirst)
}

//go:wasmexport allocate
func allocate(size uint32) uint32 {
	addr, err := svc.Allocate(size)
	must(err)
	return uint32(addr)
}

//go:wasmexport release
func release(addr uint32, size uint32) {
	must(svc.Release(memory.Address(addr), size))
}

//go:wasmexport reallocate
func reallocate(addr uint32, oldSize uint32, newSize uint32) uint32 {
	moved, err := svc.Reallocate(memory.Address(addr), oldSize, newSize)
	must(err)
	return uint32(moved)
}

//go:wasmexport validate
func validate(docAddr uint32, docLen uint32, schemaAddr uint32, schemaLen uint32) uint32 {
	ok, err := svc.Validate(memory.Address(docAddr), docLen, memory.Address(schemaAddr), schemaLen)
	must(err)
	if ok {
		return 1
	}
	return 0
}

//go:wasmexport validate_with_errors
func validateWithErrors(docAddr uint32, docLen uint32, schemaAddr uint32, schemaLen uint32) uint32 {
	record, err := svc.ValidateWithErrors(memory.Address(docAddr), docLen, memory.Address(schemaAddr), schemaLen)
	must(err)
	return uint32(record)
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {}
