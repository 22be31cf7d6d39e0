package allowlist

import (
	"errors"
	"strings"

	"golang.org/x/xerrors"
)

// Rule represents an allow rule passed to the cli with --allow or read from the config file.
// Example: --allow="domain=ukcop26.org suffix=.gov.uk,.cloudapps.digital"
type Rule struct {
	// Hostnames that must match exactly.
	Domains []string

	// Hostname suffixes, matched with a literal string suffix test.
	Suffixes []string

	// Raw rule string for logging
	Raw string
}

// ParseAllowSpecs parses a slice of --allow specs into allow Rules.
func ParseAllowSpecs(allowStrings []string) ([]Rule, error) {
	var out []Rule
	for _, s := range allowStrings {
		r, err := parseAllowRule(s)
		if err != nil {
			return nil, xerrors.Errorf("failed to parse allow '%s': %w", s, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// parseAllowRule takes an allow rule string and tries to parse it as a rule.
// Every helper follows the `thing, rest, err := parseThing(rest)` shape: it
// consumes text from the front of the string and hands back the remainder.
func parseAllowRule(ruleStr string) (Rule, error) {
	rule := Rule{
		Raw: ruleStr,
	}

	rest := strings.TrimSpace(ruleStr)
	if rest == "" {
		return Rule{}, errors.New("empty rule")
	}

	var key string
	var err error
	for rest != "" {
		key, rest, err = parseKey(rest)
		if err != nil {
			return Rule{}, xerrors.Errorf("failed to parse key: %w", err)
		}

		// Both keys take a comma separated list of hosts.
		for {
			var host string
			switch key {
			case "domain":
				host, rest, err = parseHost(rest)
				if err != nil {
					return Rule{}, xerrors.Errorf("failed to parse domain: %w", err)
				}
				rule.Domains = append(rule.Domains, host)
			case "suffix":
				host, rest, err = parseSuffix(rest)
				if err != nil {
					return Rule{}, xerrors.Errorf("failed to parse suffix: %w", err)
				}
				rule.Suffixes = append(rule.Suffixes, host)
			}

			if rest != "" && rest[0] == ',' {
				rest = rest[1:]
				continue
			}
			break
		}

		// Skip whitespace separators
		for rest != "" && (rest[0] == ' ' || rest[0] == '\t') {
			rest = rest[1:]
		}
	}

	return rule, nil
}

// parseSuffix accepts an optional leading dot followed by a host.
func parseSuffix(input string) (string, string, error) {
	if input == "" {
		return "", "", errors.New("expected suffix, got empty string")
	}

	rest, dot := strings.CutPrefix(input, ".")
	host, rest, err := parseHost(rest)
	if err != nil {
		return "", "", err
	}
	if dot {
		return "." + host, rest, nil
	}
	return host, rest, nil
}

// Represents a valid host.
// https://datatracker.ietf.org/doc/html/rfc952
// https://datatracker.ietf.org/doc/html/rfc1123#page-13
func parseHost(input string) (string, string, error) {
	if input == "" {
		return "", "", errors.New("expected host, got empty string")
	}

	rest := input
	var labels []string

	// There should be at least one label.
	label, rest, err := parseLabel(rest)
	if err != nil {
		return "", "", err
	}
	labels = append(labels, label)

	// A host is just a bunch of labels separated by `.` characters.
	var found bool
	for {
		rest, found = strings.CutPrefix(rest, ".")
		if !found {
			break
		}

		label, rest, err = parseLabel(rest)
		if err != nil {
			return "", "", err
		}
		labels = append(labels, label)
	}

	return strings.ToLower(strings.Join(labels, ".")), rest, nil
}

// Represents a valid label in a hostname. For example, wobble in `wib-ble.wobble.com`.
func parseLabel(rest string) (string, string, error) {
	if rest == "" {
		return "", "", errors.New("expected label, got empty string")
	}

	// Leading char in a label cannot be a hyphen.
	if !isValidLabelChar(rest[0]) || rest[0] == '-' {
		return "", "", xerrors.Errorf("could not pull label from front of string: %s", rest)
	}

	var i int
	for i = 1; i < len(rest) && isValidLabelChar(rest[i]); i++ {
	}

	// Final char in a label cannot be a hyphen.
	if rest[i-1] == '-' {
		return "", "", xerrors.Errorf("invalid label: %s", rest[:i])
	}

	return rest[:i], rest[i:], nil
}

func isValidLabelChar(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z':
		return true
	case c >= 'a' && c <= 'z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '-':
		return true
	default:
		return false
	}
}

// parseKey parses the predefined keys that the cli can handle. Also strips the `=` following the key.
func parseKey(rule string) (string, string, error) {
	if rule == "" {
		return "", "", errors.New("expected key")
	}

	keys := []string{"domain", "suffix"}

	for _, key := range keys {
		if rest, found := strings.CutPrefix(rule, key+"="); found {
			return key, rest, nil
		}
	}

	return "", "", xerrors.Errorf("expected key, got: %s", rule)
}
