// Package benchmark measures the per-frame cost of the rollback core.
//
// Run benchmarks with:
//
//	go test -bench=. -benchmem ./internal/tests/benchmark/...
//
// Rollback depth dominates the frame budget; compare depths with:
//
//	go test -bench=BenchmarkRollback -benchmem -count=5 ./internal/tests/benchmark/... | tee rollback.txt
//	benchstat old.txt rollback.txt
package benchmark
