package classifier

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Errors returned by Client implementations. Server side failures are *ServerError.
var (
	ErrNetwork = errors.New("network error")
	ErrAuth    = errors.New("not authorized")
)

const maxRawBody = 512

// BodyKind tells which shape an error response body had.
type BodyKind int

const (
	BodyUnknown BodyKind = iota
	BodyMessage
	BodyFieldErrors
)

func (k BodyKind) String() string {
	switch k {
	case BodyMessage:
		return "message"
	case BodyFieldErrors:
		return "field_errors"
	default:
		return "unknown"
	}
}

// FieldError is one validation failure, e.g. FastAPI's {"loc": [...], "msg": "..."}.
type FieldError struct {
	Loc  []string `json:"loc,omitempty"`
	Msg  string   `json:"msg"`
	Type string   `json:"type,omitempty"`
}

// ErrorBody is the decoded error payload of a failed request.
type ErrorBody struct {
	Kind    BodyKind
	Message string
	Fields  []FieldError
	// Raw holds a bounded copy of the body for BodyUnknown.
	Raw string
}

// Detail returns the most specific human readable message in the body.
func (b ErrorBody) Detail() string {
	switch b.Kind {
	case BodyFieldErrors:
		msgs := make([]string, 0, len(b.Fields))
		for _, f := range b.Fields {
			if m := strings.TrimSpace(f.Msg); m != "" {
				msgs = append(msgs, m)
			}
		}
		return strings.Join(msgs, "\n")
	case BodyMessage:
		return b.Message
	default:
		return ""
	}
}

// ServerError is a non-2xx response other than 401.
type ServerError struct {
	StatusCode int
	Body       ErrorBody
}

// Detail returns the body detail, falling back to the HTTP status text.
func (e *ServerError) Detail() string {
	if d := e.Body.Detail(); d != "" {
		return d
	}
	if text := http.StatusText(e.StatusCode); text != "" {
		return text
	}
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Detail())
}

type rawErrorObject struct {
	Message json.RawMessage `json:"message"`
	Detail  json.RawMessage `json:"detail"`
	Errors  json.RawMessage `json:"errors"`
}

// ParseErrorBody decides the shape of an error response once. Field errors
// win over plain messages; anything unrecognised is BodyUnknown.
func ParseErrorBody(data []byte) ErrorBody {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return ErrorBody{Kind: BodyUnknown}
	}

	if !json.Valid(trimmed) {
		text := string(trimmed)
		if looksLikeMarkup(text) {
			return ErrorBody{Kind: BodyUnknown, Raw: truncate(text)}
		}
		return ErrorBody{Kind: BodyMessage, Message: truncate(text)}
	}

	var str string
	if err := json.Unmarshal(trimmed, &str); err == nil {
		if strings.TrimSpace(str) == "" {
			return ErrorBody{Kind: BodyUnknown}
		}
		return ErrorBody{Kind: BodyMessage, Message: str}
	}

	var obj rawErrorObject
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return ErrorBody{Kind: BodyUnknown, Raw: truncate(string(trimmed))}
	}

	if fields := parseDetailList(obj.Detail); len(fields) > 0 {
		return ErrorBody{Kind: BodyFieldErrors, Fields: fields}
	}
	if fields := parseErrorsMap(obj.Errors); len(fields) > 0 {
		return ErrorBody{Kind: BodyFieldErrors, Fields: fields}
	}
	if msg := jsonString(obj.Message); msg != "" {
		return ErrorBody{Kind: BodyMessage, Message: msg}
	}
	if msg := jsonString(obj.Detail); msg != "" {
		return ErrorBody{Kind: BodyMessage, Message: msg}
	}
	return ErrorBody{Kind: BodyUnknown, Raw: truncate(string(trimmed))}
}

func parseDetailList(raw json.RawMessage) []FieldError {
	if len(raw) == 0 {
		return nil
	}
	var items []struct {
		Loc  []any  `json:"loc"`
		Msg  string `json:"msg"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	fields := make([]FieldError, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.Msg) == "" {
			continue
		}
		loc := make([]string, 0, len(item.Loc))
		for _, part := range item.Loc {
			loc = append(loc, fmt.Sprint(part))
		}
		fields = append(fields, FieldError{Loc: loc, Msg: item.Msg, Type: item.Type})
	}
	return fields
}

// parseErrorsMap reads {"errors": {"field": ["msg", ...] | "msg"}} sorted by field.
func parseErrorsMap(raw json.RawMessage) []FieldError {
	if len(raw) == 0 {
		return nil
	}
	var byField map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byField); err != nil {
		return nil
	}
	keys := make([]string, 0, len(byField))
	for k := range byField {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var fields []FieldError
	for _, k := range keys {
		var list []string
		if err := json.Unmarshal(byField[k], &list); err != nil {
			if msg := jsonString(byField[k]); msg != "" {
				list = []string{msg}
			}
		}
		for _, msg := range list {
			if strings.TrimSpace(msg) != "" {
				fields = append(fields, FieldError{Loc: []string{k}, Msg: msg})
			}
		}
	}
	return fields
}

func jsonString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func looksLikeMarkup(text string) bool {
	lower := strings.ToLower(text)
	return strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html")
}

func truncate(s string) string {
	if len(s) <= maxRawBody {
		return s
	}
	return s[:maxRawBody]
}
