// Package dag defines assetweaver's task graph and runner.
//
// It is split into:
//   - A mutable Registry where work tasks and series/parallel composites are declared
//   - An immutable, validated TaskGraph produced by Registry.Build
//   - A Runner that executes one named task per call and returns a RunResult
//
// Composition references form the graph edges (composite -> child). Unknown
// references, self references and cycles are rejected when the graph is built,
// never while it runs.
package dag
