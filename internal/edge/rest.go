package edge

import (
	"context"
	"net/http"
	"net/url"
)

// Insert adds rows to table. rows is any JSON-encodable value, usually a slice.
func (c *Client) Insert(ctx context.Context, table string, rows any) error {
	header := http.Header{}
	header.Set("Prefer", "return=minimal")
	return c.doJSON(ctx, http.MethodPost, "rest/v1/"+url.PathEscape(table), rows, nil, header)
}

// RPC calls a database function and decodes its result into out.
func (c *Client) RPC(ctx context.Context, fn string, args, out any) error {
	if args == nil {
		args = struct{}{}
	}
	return c.doJSON(ctx, http.MethodPost, "rest/v1/rpc/"+url.PathEscape(fn), args, out, nil)
}

// HasRole reports whether userID holds role.
func (c *Client) HasRole(ctx context.Context, userID, role string) (bool, error) {
	var ok bool
	err := c.RPC(ctx, "has_role", map[string]string{"_user_id": userID, "_role": role}, &ok)
	return ok, err
}
