package logging

import "github.com/sirupsen/logrus"

// BaseFields builds the action + config path fields shared by CLI entry
// points' log lines.
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields provides the ecosystem/identity/cache-hit fields shared by
// every request-path log line in internal/server.
func RequestFields(ecosystem, kind, name, version string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"ecosystem": ecosystem,
		"kind":      kind,
		"name":      name,
		"version":   version,
		"cache_hit": cacheHit,
	}
}
