package triage

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// ClusterKey computes the grouping key for near-identical tickets: a hash of
// the lowercased text plus the entities that distinguish genuinely different
// reports (level, platform, app version). Deterministic, not security
// sensitive - identical reports must always collide.
func ClusterKey(text string, e Entities) string {
	level := ""
	if e.Level != nil {
		level = fmt.Sprintf("%d", *e.Level)
	}
	sig := strings.ToLower(text) + "|" + level + "|" + e.Platform + "|" + e.AppVersion
	sum := md5.Sum([]byte(sig))
	return hex.EncodeToString(sum[:])
}
