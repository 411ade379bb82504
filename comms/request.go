package comms

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	ParamMotorSpeed = "motorSpeed"
	ParamDirection  = "direction"
)

var (
	recognised    = map[string]bool{ParamMotorSpeed: true, ParamDirection: true}
	leadingDigits = regexp.MustCompile(`^[0-9]+`)
)

// ParamError is a recognised parameter whose value is not a usable integer.
type ParamError struct {
	Name  string
	Value string
	Err   error
}

func (e ParamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parameter %s=%q is not an integer: %v", e.Name, e.Value, e.Err)
	}
	return fmt.Sprintf("parameter %s=%q is not an integer", e.Name, e.Value)
}

func (e ParamError) Unwrap() error {
	return e.Err
}

// Request is a decoded request line. Method and Path are empty when the line has no separator.
type Request struct {
	Method string
	Path   string
	Params map[string]int
	Errors map[string]error
}

// Param returns a parsed parameter value and whether it was present and valid.
func (r Request) Param(name string) (val int, ok bool) {
	val, ok = r.Params[name]
	return
}

// ParseRequest decodes the request line of raw. Only the first line is interpreted: it is split on
// spaces into method and target, and the query string after '?' is split on '&'. Unknown names
// and parameters without '=' are ignored; the first occurrence of a repeated name wins. A value is
// read up to its first non-digit.
func ParseRequest(raw string) (req Request) {
	req.Params = make(map[string]int)
	req.Errors = make(map[string]error)

	line, _, _ := strings.Cut(raw, "\n")
	parts := strings.Split(strings.TrimRight(line, "\r"), " ")
	if len(parts) < 2 {
		return
	}
	req.Method = parts[0]
	req.Path = parts[1]

	_, query, found := strings.Cut(req.Path, "?")
	if !found {
		return
	}
	query, _, _ = strings.Cut(query, "#")

	for _, param := range strings.Split(query, "&") {
		name, value, ok := strings.Cut(param, "=")
		if !ok || !recognised[name] {
			continue
		}
		if _, seen := req.Params[name]; seen {
			continue
		}
		if _, seen := req.Errors[name]; seen {
			continue
		}

		digits := leadingDigits.FindString(value)
		if digits == "" {
			req.Errors[name] = ParamError{Name: name, Value: value}
			continue
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			req.Errors[name] = ParamError{Name: name, Value: value, Err: err}
			continue
		}
		req.Params[name] = n
	}
	return
}
