package apiclient

// ClearResult reports how many transaction rows a truncate removed.
type ClearResult struct {
	Deleted int64 `json:"deleted"`
}

// ClearTransactions deletes every processed transaction. Upload records and
// line fingerprints survive, so previously ingested files stay rejected as
// duplicates.
func (c *Client) ClearTransactions() (*ClearResult, error) {
	return deleteResource[ClearResult](c, "/api/v1/transactions")
}
