package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages feature toggles.
// Every flag can be overridden with FEATURE_<NAME>=true|false, where the
// name is upper-cased and dots become underscores.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100), members are bucketed by a hash of their ID.
	RolloutPercent int
}

// Predefined feature flag names.
const (
	FeatureChatIngest       = "ingest.chat"        // Award XP for messages
	FeatureVoiceIngest      = "ingest.voice"       // Periodic voice presence scan
	FeatureAnnounceLevelUp  = "announce.level_up"  // Post level-up messages
	FeatureRankCard         = "command.rank_card"  // Render PNG cards for /rank
	FeatureHTTPCardEndpoint = "http.card_endpoint" // Serve cards over HTTP
)

// LoadFeatureFlags builds the defaults and applies env overrides.
// A nil environment means the process environment.
func LoadFeatureFlags(environment map[string]string) *FeatureFlags {
	ff := &FeatureFlags{features: make(map[string]*Feature)}
	ff.initializeDefaults()
	ff.loadFromEnvironment(environment)
	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	defaults := []*Feature{
		{Name: FeatureChatIngest, Description: "Award chat XP for messages", Enabled: true, RolloutPercent: 100},
		{Name: FeatureVoiceIngest, Description: "Award voice XP every tick", Enabled: true, RolloutPercent: 100},
		{Name: FeatureAnnounceLevelUp, Description: "Announce level-ups in a channel", Enabled: true, RolloutPercent: 100},
		{Name: FeatureRankCard, Description: "Reply to /rank with an image card", Enabled: true, RolloutPercent: 100},
		{Name: FeatureHTTPCardEndpoint, Description: "Expose rank cards over HTTP", Enabled: false, RolloutPercent: 100},
	}
	for _, f := range defaults {
		ff.features[f.Name] = f
	}
}

func (ff *FeatureFlags) loadFromEnvironment(environment map[string]string) {
	lookup := os.LookupEnv
	if environment != nil {
		lookup = func(key string) (string, bool) {
			v, ok := environment[key]
			return v, ok
		}
	}

	for name, f := range ff.features {
		if raw, ok := lookup(featureNameToEnvKey(name)); ok {
			if v, err := strconv.ParseBool(raw); err == nil {
				f.Enabled = v
			}
		}
		if raw, ok := lookup(featureNameToEnvKey(name) + "_ROLLOUT"); ok {
			if v, err := strconv.Atoi(raw); err == nil && v >= 0 && v <= 100 {
				f.RolloutPercent = v
			}
		}
	}
}

func featureNameToEnvKey(name string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

// IsEnabled reports whether a feature is on globally.
func (ff *FeatureFlags) IsEnabled(featureName string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	f, ok := ff.features[featureName]
	return ok && f.Enabled
}

// IsEnabledFor reports whether a feature is on for a given member,
// honoring the rollout percentage.
func (ff *FeatureFlags) IsEnabledFor(featureName, memberID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	f, ok := ff.features[featureName]
	if !ok || !f.Enabled {
		return false
	}
	return inRollout(memberID, featureName, f.RolloutPercent)
}

func inRollout(memberID, featureName string, percent int) bool {
	if percent >= 100 {
		return true
	}
	if percent <= 0 {
		return false
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(featureName + ":" + memberID))
	return int(h.Sum32()%100) < percent
}

// SetEnabled toggles a feature at runtime.
func (ff *FeatureFlags) SetEnabled(featureName string, enabled bool) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	f, ok := ff.features[featureName]
	if !ok {
		return &FeatureFlagError{Feature: featureName, Message: "unknown feature"}
	}
	f.Enabled = enabled
	return nil
}

// Names returns all known feature names, sorted.
func (ff *FeatureFlags) Names() []string {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	names := make([]string, 0, len(ff.features))
	for name := range ff.features {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FeatureFlagError reports a problem with a feature flag operation.
type FeatureFlagError struct {
	Feature string
	Message string
}

func (e *FeatureFlagError) Error() string {
	return fmt.Sprintf("feature %q: %s", e.Feature, e.Message)
}
