package atom

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/npekslin/atom/serialization"
)

// versionInfo is the data shape the version built-in reports and
// GetElementVersion/CheckElementVersion expect back.
type versionInfo struct {
	Language string  `codec:"language"`
	Version  float64 `codec:"version"`
}

func (e *Element) registerBuiltins() {
	major := majorMinor(Version)

	e.addBuiltin(CommandVersion, func() Response {
		return Response{
			Data:          versionInfo{Language: Lang, Version: major},
			Serialization: serialization.Msgpack,
		}
	}, serialization.Msgpack)

	e.addBuiltin(CommandList, func() Response {
		e.handlersMu.RLock()
		names := make([]string, 0, len(e.handlers))
		for name := range e.handlers {
			if _, reserved := reservedCommands[name]; !reserved {
				names = append(names, name)
			}
		}
		e.handlersMu.RUnlock()
		return Response{Data: names, Serialization: serialization.Msgpack}
	}, serialization.Msgpack)
}

func majorMinor(v string) float64 {
	parts := strings.Split(v, ".")
	if len(parts) < 2 {
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	f, _ := strconv.ParseFloat(strings.Join(parts[:len(parts)-1], "."), 64)
	return f
}

// GetElementVersion queries element's version built-in.
func (e *Element) GetElementVersion(ctx context.Context, element string) (Response, error) {
	return e.CommandSend(ctx, element, CommandVersion, nil, WithSendSerialization(serialization.Msgpack))
}

// CheckElementVersion reports whether element is reachable, supports
// the version command, and (when given) belongs to languages and
// meets minVersion. An empty languages set skips the language check;
// minVersion <= 0 skips the version check. Mirrors element.py's
// _check_element_version, promoted to an exported helper since
// WaitForElementsHealthy and GetAllCommands both need it.
func (e *Element) CheckElementVersion(ctx context.Context, element string, languages []string, minVersion float64) bool {
	resp, err := e.GetElementVersion(ctx, element)
	if err != nil || resp.ErrCode != NoError {
		return false
	}

	// The msgpack codec decodes maps as map[interface{}]interface{}.
	var lang string
	var rawVersion interface{}
	switch info := resp.Data.(type) {
	case map[string]interface{}:
		lang, _ = info["language"].(string)
		rawVersion = info["version"]
	case map[interface{}]interface{}:
		lang, _ = info["language"].(string)
		rawVersion = info["version"]
	default:
		return false
	}

	ver, ok := toFloat(rawVersion)
	if !ok {
		return false
	}

	if len(languages) > 0 && !contains(languages, lang) {
		return false
	}
	if minVersion > 0 && ver < minVersion {
		return false
	}
	return true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// WaitForElementsHealthy blocks until every element named in elements
// answers its healthcheck command with NoError, retrying every
// retryInterval. In strict mode, an element that doesn't support
// healthchecks (too old, or unreachable) is treated as unhealthy
// rather than skipped.
func (e *Element) WaitForElementsHealthy(ctx context.Context, elements []string, retryInterval time.Duration, strict bool) error {
	if retryInterval <= 0 {
		retryInterval = DefaultHealthcheckRetryInterval
	}

	for {
		allHealthy := true
		for _, name := range elements {
			if !e.CheckElementVersion(ctx, name, []string{Lang}, 0.2) {
				if strict {
					e.Log(LogWarning, fmt.Sprintf("failed healthcheck on %s, retrying...", name), false)
					allHealthy = false
					break
				}
				continue
			}

			resp, err := e.CommandSend(ctx, name, CommandHealthcheck, nil)
			if err != nil || resp.ErrCode != NoError {
				e.Log(LogWarning, fmt.Sprintf("failed healthcheck on %s, retrying...", name), false)
				allHealthy = false
				break
			}
		}
		if allHealthy {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
}

// GetAllCommands enumerates every command available on element (all
// reachable elements, by default), prefixed "<element>:<command>".
// The caller itself is skipped unless includeCaller is true. Only
// elements whose version command reports a version >= 0.3 are queried,
// whatever their language.
func (e *Element) GetAllCommands(ctx context.Context, element string, includeCaller bool) ([]string, error) {
	var elements []string
	if element != "" {
		elements = []string{element}
	} else {
		all, err := e.GetAllElements(ctx)
		if err != nil {
			return nil, fmt.Errorf("atom: get_all_commands: %w", err)
		}
		elements = all
	}

	var out []string
	for _, name := range elements {
		if !includeCaller && name == e.name {
			continue
		}
		if !e.CheckElementVersion(ctx, name, nil, 0.3) && !e.CheckElementVersion(ctx, name, []string{Lang}, 0.3) {
			continue
		}

		resp, err := e.CommandSend(ctx, name, CommandList, nil, WithSendSerialization(serialization.Msgpack))
		if err != nil || resp.ErrCode != NoError {
			continue
		}
		cmds, ok := resp.Data.([]interface{})
		if !ok {
			continue
		}
		for _, c := range cmds {
			if s, ok := c.(string); ok {
				out = append(out, fmt.Sprintf("%s:%s", name, s))
			}
		}
	}
	return out, nil
}
