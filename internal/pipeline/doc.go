// Package pipeline runs declarative step graphs through the Job
// Registry. A definition is a YAML document validated against an
// embedded CUE schema; steps reference each other's outputs, the
// controller levels the resulting DAG into stages, and each stage is a
// barrier: all of its jobs are submitted, then awaited, before the
// next stage starts.
package pipeline
