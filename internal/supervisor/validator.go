package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/edgewatch/camd/internal/mediamtx"
)

// configValidator checks proposed global-config updates against a static
// schema before they are sent to the media server. Violations are
// accumulated, never short-circuited: the caller gets one error listing
// every problem found.
type configValidator struct {
	log    *zap.Logger
	client *mediamtx.Client
}

func newConfigValidator(log *zap.Logger, client *mediamtx.Client) *configValidator {
	return &configValidator{log: log.Named("config"), client: client}
}

type valueKind int

const (
	kindBool valueKind = iota
	kindInt
	kindFloat
	kindString
)

func (k valueKind) String() string {
	switch k {
	case kindBool:
		return "bool"
	case kindInt:
		return "int"
	case kindFloat:
		return "float"
	default:
		return "string"
	}
}

// constraint describes the schema for one configuration key. The schema is
// data, not code: one generic routine evaluates every key the same way.
type constraint struct {
	kind    valueKind
	allowed []string
	min     *float64
	max     *float64
	pattern *regexp.Regexp
}

func bound(v float64) *float64 { return &v }

// addrPattern is the strict IPv4 address:port shape required for *Address
// keys. Bare ":port" shorthand is rejected.
var addrPattern = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}:\d{1,5}$`)

// globalConfigSchema is the static table of updatable media server keys.
var globalConfigSchema = map[string]constraint{
	"logLevel": {kind: kindString, allowed: []string{"error", "warn", "info", "debug"}},

	"readTimeout":    {kind: kindInt, min: bound(1), max: bound(3600)},
	"writeTimeout":   {kind: kindInt, min: bound(1), max: bound(3600)},
	"writeQueueSize": {kind: kindInt, min: bound(8), max: bound(4096)},

	"api":        {kind: kindBool},
	"apiAddress": {kind: kindString, pattern: addrPattern},

	"metrics":        {kind: kindBool},
	"metricsAddress": {kind: kindString, pattern: addrPattern},

	"rtsp":        {kind: kindBool},
	"rtspAddress": {kind: kindString, pattern: addrPattern},

	"rtmp":        {kind: kindBool},
	"rtmpAddress": {kind: kindString, pattern: addrPattern},

	"hls":                {kind: kindBool},
	"hlsAddress":         {kind: kindString, pattern: addrPattern},
	"hlsSegmentCount":    {kind: kindInt, min: bound(1), max: bound(100)},
	"hlsSegmentDuration": {kind: kindInt, min: bound(1), max: bound(60)},

	"webrtc":        {kind: kindBool},
	"webrtcAddress": {kind: kindString, pattern: addrPattern},

	"record":       {kind: kindBool},
	"recordFormat": {kind: kindString, allowed: []string{"fmp4", "mpegts"}},
}

// ValidateAndApply validates updates against the schema and, when fully
// valid, issues one global-config update to the media server.
func (v *configValidator) ValidateAndApply(ctx context.Context, updates map[string]any) error {
	if len(updates) == 0 {
		return fmt.Errorf("configuration updates are required: %w", ErrInvalidInput)
	}

	if err := validateConfigUpdates(updates); err != nil {
		return err
	}

	v.log.Info("applying configuration update", zap.Int("keys", len(updates)))

	// One HTTP call; the client tags it with a fresh correlation ID.
	if err := v.client.PatchGlobalConfig(ctx, updates); err != nil {
		if errors.Is(err, mediamtx.ErrUnreachable) {
			return fmt.Errorf("media server unreachable: %w", err)
		}
		var apiErr *mediamtx.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("configuration update failed: %w", err)
		}
		return err
	}

	v.log.Info("configuration update applied", zap.Int("keys", len(updates)))
	return nil
}

// validateConfigUpdates checks every key and accumulates all violations
// into one ErrInvalidInput-classed error.
func validateConfigUpdates(updates map[string]any) error {
	var unknown []string
	var violations []string

	// Deterministic order so error text is stable for callers and tests.
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		cons, ok := globalConfigSchema[key]
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		if msg := checkValue(key, cons, updates[key]); msg != "" {
			violations = append(violations, msg)
		}
	}

	if len(unknown) > 0 {
		violations = append([]string{
			"unknown configuration keys: " + strings.Join(unknown, ", "),
		}, violations...)
	}
	if len(violations) > 0 {
		return fmt.Errorf("%s: %w", strings.Join(violations, "; "), ErrInvalidInput)
	}
	return nil
}

// checkValue evaluates one value against its constraint. Returns an empty
// string when the value is acceptable.
func checkValue(key string, cons constraint, val any) string {
	switch cons.kind {
	case kindBool:
		if _, ok := val.(bool); !ok {
			return fmt.Sprintf("%s must be a bool, got %T", key, val)
		}
		return ""

	case kindInt, kindFloat:
		num, ok := asNumber(val)
		if !ok || (cons.kind == kindInt && num != math.Trunc(num)) {
			return fmt.Sprintf("%s must be a %s, got %v", key, cons.kind, val)
		}
		if cons.min != nil && num < *cons.min {
			return fmt.Sprintf("%s must be >= %v, got %v", key, *cons.min, val)
		}
		if cons.max != nil && num > *cons.max {
			return fmt.Sprintf("%s must be <= %v, got %v", key, *cons.max, val)
		}
		return ""

	default:
		str, ok := val.(string)
		if !ok {
			return fmt.Sprintf("%s must be a string, got %T", key, val)
		}
		if len(cons.allowed) > 0 && !contains(cons.allowed, str) {
			return fmt.Sprintf("%s must be one of [%s], got %q", key, strings.Join(cons.allowed, ", "), str)
		}
		if cons.pattern != nil && !cons.pattern.MatchString(str) {
			return fmt.Sprintf("%s must match address:port, got %q", key, str)
		}
		return ""
	}
}

// asNumber normalizes the numeric types JSON decoding can produce. Bools
// are not numbers.
func asNumber(val any) (float64, bool) {
	switch n := val.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
