// Package benchmarks measures broadcast fan-out and control plane throughput
package benchmarks
