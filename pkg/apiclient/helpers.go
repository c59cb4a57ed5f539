package apiclient

// Generic wrappers over Client.get/post/delete that keep the per-resource
// methods down to a path and a response type.

// getResource performs a GET request and decodes the response into T.
func getResource[T any](c *Client, path string) (*T, error) {
	var result T
	if err := c.get(path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// listResources performs a GET request and decodes the response into a slice
// of T.
func listResources[T any](c *Client, path string) ([]T, error) {
	var results []T
	if err := c.get(path, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// postResource performs a POST request and decodes the response into T.
func postResource[T any](c *Client, path string, body any) (*T, error) {
	var result T
	if err := c.post(path, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// deleteResource performs a DELETE request and decodes the response into T.
func deleteResource[T any](c *Client, path string) (*T, error) {
	var result T
	if err := c.delete(path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
