package model

import "strconv"

// ClientSnapshot is a read-only view of a client's current attribute
// values, used for rule evaluation. The client's own lifecycle is
// owned by the attribute store.
type ClientSnapshot struct {
	Id         string
	Attributes map[string]any
}

func (c *ClientSnapshot) GetString(name string) (string, bool) {
	v, ok := c.Attributes[name]
	if !ok {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(val, 10), true
	default:
		return "", false
	}
}

func (c *ClientSnapshot) GetInt(name string) (int64, bool) {
	v, ok := c.Attributes[name]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case float64:
		return int64(val), true
	case string:
		i, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// clientSchema lists the attribute names rules are allowed to
// reference. A rule naming anything else is rejected when the hunt is
// started, not at match time.
var clientSchema = map[string]struct{}{
	"client":       {},
	"host":         {},
	"os":           {},
	"os_version":   {},
	"labels":       {},
	"version":      {},
	"clock":        {},
	"install_time": {},
	"last_boot":    {},
	"last_seen":    {},
}

func IsKnownAttribute(name string) bool {
	_, ok := clientSchema[name]
	return ok
}
