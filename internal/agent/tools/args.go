package tools

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"grantwatch/internal/domain"
)

// Args holds the parsed form of a tool input string.
type Args struct {
	// Positional is free text that appears before the first key=value pair.
	Positional string
	Named      map[string]string
}

var keyPattern = regexp.MustCompile(`(?:^|[\s;,])([a-z_]+)\s*=`)

// ParseArgs reads "free text key=value; key2=value2" or a flat JSON object.
// Keys outside allowed are rejected.
func ParseArgs(input string, allowed ...string) (Args, error) {
	args := Args{Named: make(map[string]string)}
	input = strings.TrimSpace(input)
	if input == "" {
		return args, nil
	}

	if strings.HasPrefix(input, "{") {
		if err := parseJSONArgs(input, &args); err != nil {
			return args, err
		}
	} else {
		parseKeyValues(input, &args)
	}

	for key := range args.Named {
		if !contains(allowed, key) {
			return args, fmt.Errorf("%w: unknown argument %q (accepted: %s)", domain.ErrInvalidInput, key, strings.Join(allowed, ", "))
		}
	}
	return args, nil
}

func parseKeyValues(input string, args *Args) {
	locs := keyPattern.FindAllStringSubmatchIndex(input, -1)
	if len(locs) == 0 {
		args.Positional = input
		return
	}

	args.Positional = cleanValue(input[:locs[0][0]])
	for i, loc := range locs {
		key := input[loc[2]:loc[3]]
		end := len(input)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		args.Named[key] = cleanValue(input[loc[1]:end])
	}
}

func parseJSONArgs(input string, args *Args) error {
	var raw map[string]any
	if err := json.Unmarshal([]byte(input), &raw); err != nil {
		return fmt.Errorf("%w: malformed JSON arguments: %v", domain.ErrInvalidInput, err)
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			args.Named[k] = strings.TrimSpace(v)
		case float64:
			args.Named[k] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			args.Named[k] = strconv.FormatBool(v)
		default:
			return fmt.Errorf("%w: argument %q must be a string or number", domain.ErrInvalidInput, k)
		}
	}
	return nil
}

func cleanValue(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ";,")
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
	}
	return s
}

// PositiveInt reads an optional positive integer argument.
func (a Args) PositiveInt(key string, fallback int) (int, error) {
	raw, ok := a.Named[key]
	if !ok || raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", domain.ErrInvalidInput, key, raw)
	}
	return n, nil
}

// Primary returns the named value for key or, failing that, the positional text.
// Supplying both is ambiguous and rejected.
func (a Args) Primary(key string) (string, error) {
	named, hasNamed := a.Named[key]
	if hasNamed && a.Positional != "" {
		return "", fmt.Errorf("%w: %s given both positionally and as %s=", domain.ErrInvalidInput, key, key)
	}
	if hasNamed {
		return named, nil
	}
	return a.Positional, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
