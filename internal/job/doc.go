// Package job implements the Job Registry: execution orchestration with
// memoization. A job is identified by its job hash (manifest hash plus
// resolved input value ids); concurrent requests with the same hash
// collapse to one execution, and pluggable matchers decide whether a
// prior job's recorded outputs may be reused instead of re-executing.
package job
