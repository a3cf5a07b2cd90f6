package model

type Operator int

const EQUAL Operator = 1
const LESS_THAN Operator = 2
const GREATER_THAN Operator = 3

type RegexRule struct {
	Attribute string `json:"attribute"`
	Regex     string `json:"regex"`
}

type IntegerRule struct {
	Attribute string   `json:"attribute"`
	Operator  Operator `json:"operator"`
	Value     int64    `json:"value"`
}

// Rule is a foreman targeting rule. A client matches iff every regex
// rule and every integer rule evaluates true against its current
// attribute snapshot. An empty rule matches every client.
type Rule struct {
	HuntId string `json:"huntId"`
	// Created and Expires are nanoseconds since epoch. Created
	// doubles as the foreman's evaluation order.
	Created      int64         `json:"created"`
	Expires      int64         `json:"expires"`
	RegexRules   []RegexRule   `json:"regexRules,omitempty"`
	IntegerRules []IntegerRule `json:"integerRules,omitempty"`
}

func (r Rule) Expired(now int64) bool {
	return r.Expires != 0 && r.Expires < now
}
