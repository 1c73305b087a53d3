package metrics

import "strings"

// MetricPrefix namespaces every metric the engine emits.
const MetricPrefix = "dagrun_"

// MetricName prefixes name with the engine namespace. Names that already
// carry the prefix pass through unchanged.
func MetricName(name string) string {
	if strings.HasPrefix(name, MetricPrefix) {
		return name
	}
	return MetricPrefix + name
}

// MetricNameWithSubsystem builds <prefix><subsystem>_<name>, trimming stray
// underscores from the subsystem.
func MetricNameWithSubsystem(subsystem, name string) string {
	if strings.HasPrefix(name, MetricPrefix) {
		return name
	}
	subsystem = strings.Trim(subsystem, "_")
	if subsystem == "" {
		return MetricName(name)
	}
	if name == "" {
		return MetricName(subsystem)
	}
	return MetricName(subsystem + "_" + name)
}
