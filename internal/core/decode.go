package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/git-pkgs/pkgsync/client"
)

// Validator is implemented by every registry response type. Validate
// reports fields that are required for mapping but missing or malformed.
type Validator interface {
	Validate() error
}

// GetJSON fetches url and decodes it into v, classifying failures for
// package name on registry reg:
//   - 404 becomes a NotFound error
//   - a body that does not decode into v, or fails v.Validate, becomes SchemaDrift
//   - anything else (exhausted retries, open circuit, network) is returned as
//     an Upstream error
func GetJSON(ctx context.Context, c *client.Client, reg Registry, name, url string, v Validator) error {
	body, err := c.GetBody(ctx, url)
	if err != nil {
		var httpErr *client.HTTPError
		if errors.As(err, &httpErr) && httpErr.IsNotFound() {
			return NotFound(reg, name)
		}
		return &Error{Kind: KindUpstream, Registry: reg, Name: name, Err: err}
	}
	return Decode(reg, name, body, v)
}

// Decode unmarshals body into v and validates it.
func Decode(reg Registry, name string, body []byte, v Validator) error {
	if err := json.Unmarshal(body, v); err != nil {
		return SchemaDrift(reg, name, describeJSONError(err))
	}
	if err := v.Validate(); err != nil {
		return SchemaDrift(reg, name, err)
	}
	return nil
}

func describeJSONError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Errorf("field %q: expected %s, got %s", typeErr.Field, typeErr.Type, typeErr.Value)
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Errorf("invalid JSON at offset %d: %w", syntaxErr.Offset, err)
	}
	return err
}

// Required returns an error naming field if value is empty.
func Required(field, value string) error {
	if value == "" {
		return fmt.Errorf("missing required field %q", field)
	}
	return nil
}
