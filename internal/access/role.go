package access

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is the ordered permission level attached to a grant. Comparison is
// numeric: a higher role always wins when several grants cover the same node.
type Role int

const (
	RoleNone    Role = 0
	RoleRead    Role = 1
	RoleManager Role = 2
	RoleAdmin   Role = 3
)

var roleNames = map[Role]string{
	RoleRead:    "read",
	RoleManager: "manager",
	RoleAdmin:   "admin",
}

// ParseRole converts the wire/storage form into a Role.
func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "read":
		return RoleRead, nil
	case "manager":
		return RoleManager, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return RoleNone, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
}

func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "none"
}

func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseRole(raw)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func maxRole(a, b Role) Role {
	if a >= b {
		return a
	}
	return b
}
