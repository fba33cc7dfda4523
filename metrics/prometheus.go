// Package metrics declares the Prometheus metric namespaces shared across
// the engine, following the same docker/go-metrics wrapper the teacher
// corpus uses for its own storage/middleware metrics.
package metrics

import "github.com/docker/go-metrics"

// NamespacePrefix roots every metric exposed by this module.
const NamespacePrefix = "zdb"

var (
	// EngineNamespace is the prometheus namespace of engine-level
	// operations: inserts, reads, deletes, rotations.
	EngineNamespace = metrics.NewNamespace(NamespacePrefix, "engine", nil)

	// NamespaceManagerNamespace is the prometheus namespace of namespace
	// lifecycle operations: create, delete, reload, flush.
	NamespaceManagerNamespace = metrics.NewNamespace(NamespacePrefix, "namespace", nil)

	// Operations counts API façade calls by operation and outcome, e.g.
	// Operations.WithValues("set", "SUCCESS").Inc().
	Operations = EngineNamespace.NewLabeledCounter("operations_total", "total API façade calls", "operation", "reply")

	// Rotations counts data/index file rotations per namespace.
	Rotations = EngineNamespace.NewLabeledCounter("rotations_total", "total data/index file rotations", "namespace")

	// Lifecycle counts namespace manager lifecycle calls, e.g.
	// Lifecycle.WithValues("create").Inc().
	Lifecycle = NamespaceManagerNamespace.NewLabeledCounter("lifecycle_total", "total namespace lifecycle operations", "operation")
)

func init() {
	metrics.Register(EngineNamespace)
	metrics.Register(NamespaceManagerNamespace)
}
